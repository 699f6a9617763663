// Package server wires the Fiber application that intercepts Tasky's
// outbound traffic: Host-based origin routing, request-ID middleware, the
// shared upstream HTTP client, and hop-by-hop header filtering. The proxy
// package plugs into it through the ProxyHandler interface so request
// handling stays testable without a live listener.
package server
