// Package cache defines the versioned partition store that holds captured
// HTTP responses. A partition is a named, isolated key-value store; the
// lifecycle controller creates the static/dynamic partitions for the current
// deploy and drops stale ones, while the fetch strategies read and write
// entries through the Store interface. Two drivers share the interface: a
// filesystem layout (meta JSON + body file, temp file + rename writes) and a
// leveldb database per partition.
package cache
