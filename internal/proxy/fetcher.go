package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/strategy"
)

// NewUpstreamFetcher 暴露基于共享 http.Client 的 Fetcher，
// 供生命周期控制器在安装阶段预热清单时复用同一条出网路径。
func NewUpstreamFetcher(client *http.Client) strategy.Fetcher {
	return &upstreamFetcher{client: client}
}

// upstreamFetcher 基于共享 http.Client 实现 strategy.Fetcher，
// 把一次上游响应完整读入为不可变的 StoredResponse 捕获。
type upstreamFetcher struct {
	client *http.Client
}

func (f *upstreamFetcher) Fetch(ctx context.Context, req *strategy.Request) (*cache.StoredResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	// 让上游返回未压缩正文，缓存里存的是可直接回放的字节。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Host = req.URL.Host

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)

	return &cache.StoredResponse{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}
