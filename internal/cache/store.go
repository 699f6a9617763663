package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Store 管理命名分区内的响应读写。分区由生命周期控制器按版本创建/销毁，
// 策略层只通过 Get/Put 访问条目；同一 key 的并发写遵循 last-write-wins。
type Store interface {
	// Open 确保分区存在，可重复调用。
	Open(ctx context.Context, partition string) error

	// Get 返回分区内指定 key 的响应副本。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, partition, key string) (*StoredResponse, error)

	// Put 覆盖写入一个响应捕获。实现需保证写入原子性（临时文件 + rename 或批量提交）。
	Put(ctx context.Context, partition, key string, resp *StoredResponse) error

	// Delete 删除单个条目，条目不存在时不视为错误。
	Delete(ctx context.Context, partition, key string) error

	// Keys 枚举分区内全部 RequestKey，供诊断端与测试使用。
	Keys(ctx context.Context, partition string) ([]string, error)

	// List 枚举存储根下的全部分区名（含其他产品遗留的目录）。
	List(ctx context.Context) ([]string, error)

	// Drop 整体销毁一个分区及其全部条目。
	Drop(ctx context.Context, partition string) error

	// Close 释放底层句柄；fs 驱动为空操作。
	Close() error
}

// StoredResponse 是一次网络响应在入缓存时刻的不可变捕获。
// 后续写入同一 key 只会整体覆盖，不存在原地修改。
type StoredResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 返回深拷贝，避免调用方意外修改缓存内容。
func (r *StoredResponse) Clone() *StoredResponse {
	if r == nil {
		return nil
	}
	dup := &StoredResponse{
		Status:   r.Status,
		Header:   make(http.Header, len(r.Header)),
		Body:     append([]byte(nil), r.Body...),
		StoredAt: r.StoredAt,
	}
	for key, values := range r.Header {
		dup.Header[key] = append([]string(nil), values...)
	}
	return dup
}

// RequestKey 由请求 URL 与方法派生缓存键；只有 GET 会产生键，
// 其余方法一律绕过缓存。
func RequestKey(method string, u *url.URL) (string, bool) {
	if method != http.MethodGet || u == nil {
		return "", false
	}
	normalized := *u
	normalized.Fragment = ""
	return normalized.String(), true
}

// ErrNotFound 表示缓存条目或分区不存在。
var ErrNotFound = errors.New("cache entry not found")
