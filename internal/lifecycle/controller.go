package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/logging"
	"github.com/tasky-app/tasky-offline/internal/strategy"
)

// Phase 描述拦截层自身的生命周期阶段。
type Phase string

const (
	PhaseInstalling Phase = "installing"
	PhaseWaiting    Phase = "waiting"
	PhaseActivating Phase = "activating"
	PhaseActive     Phase = "active"
)

// Options 汇总控制器的构造参数。
type Options struct {
	Store   cache.Store
	Fetcher strategy.Fetcher
	Names   cache.Names
	// AppBase 是应用自身域的上游基址，清单路径相对它解析。
	AppBase *url.URL
	// Manifest 是安装阶段固化进静态分区的 URL 列表。
	Manifest []string
	Logger   *logrus.Logger
	// OnClaim 在激活完成后回调，通知路由层立即切换到新版本分区。
	OnClaim func(cache.Names)
}

// Controller 驱动 installing → waiting → activating → active 状态机，
// 负责安装时预热静态分区、激活时清理陈旧分区。分区的创建与销毁只发生在这里。
type Controller struct {
	store    cache.Store
	fetcher  strategy.Fetcher
	names    cache.Names
	appBase  *url.URL
	manifest []string
	logger   *logrus.Logger
	onClaim  func(cache.Names)

	mu    sync.Mutex
	phase Phase
}

// NewController 校验依赖并构造控制器，初始阶段为 installing。
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.AppBase == nil {
		return nil, errors.New("app base url is required")
	}
	if opts.Names.Product == "" || opts.Names.Version == "" {
		return nil, errors.New("partition names require product and version")
	}

	return &Controller{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		names:    opts.Names,
		appBase:  opts.AppBase,
		manifest: append([]string(nil), opts.Manifest...),
		logger:   opts.Logger,
		onClaim:  opts.OnClaim,
	}, nil
}

// Phase 返回当前阶段。
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == "" {
		return PhaseInstalling
	}
	return c.phase
}

// Partitions 返回当前生效的分区命名。
func (c *Controller) Partitions() cache.Names {
	return c.names
}

// Version 返回静态分区名，也是控制通道 GET_VERSION 的应答值。
func (c *Controller) Version() string {
	return c.names.Static()
}

// OfflineKey 返回安装时固化的应用根路径条目的缓存键，
// 导航请求的离线兜底从静态分区按这个键取页。
func (c *Controller) OfflineKey() string {
	root := c.appBase.ResolveReference(&url.URL{Path: "/"})
	key, _ := cache.RequestKey(http.MethodGet, root)
	return key
}

// Install 打开当前版本的静态分区并逐条抓取清单。任何一条失败都让整个
// 安装失败：残缺的 app shell 比没有更糟，错误必须向上传播让部署重试。
// 重复安装遵循覆盖语义，同一清单不会产生重复条目。
func (c *Controller) Install(ctx context.Context) error {
	c.setPhase(PhaseInstalling)

	static := c.names.Static()
	if err := c.store.Open(ctx, static); err != nil {
		return fmt.Errorf("open static partition: %w", err)
	}
	if err := c.store.Open(ctx, c.names.Dynamic()); err != nil {
		return fmt.Errorf("open dynamic partition: %w", err)
	}

	for _, path := range c.manifest {
		target := c.appBase.ResolveReference(&url.URL{Path: path})
		req := &strategy.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: http.Header{},
		}

		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return fmt.Errorf("precache %s: unexpected status %d", path, resp.Status)
		}

		key, ok := cache.RequestKey(req.Method, target)
		if !ok {
			return fmt.Errorf("precache %s: cannot derive request key", path)
		}
		if err := c.store.Put(ctx, static, key, resp); err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
	}

	if c.logger != nil {
		fields := logging.LifecycleFields(string(PhaseInstalling), static)
		fields["manifest_entries"] = len(c.manifest)
		c.logger.WithFields(fields).Info("install_complete")
	}

	// 安装完成即请求跳过等待，新版本不为存量页面让路。
	c.setPhase(PhaseWaiting)
	return nil
}

// Activate 清理本产品命名空间下的陈旧分区并接管请求路由。
// 枚举/删除失败只记日志，激活仍然完成，避免部署卡死在 pending 状态。
func (c *Controller) Activate(ctx context.Context) error {
	c.setPhase(PhaseActivating)

	partitions, err := c.store.List(ctx)
	if err != nil {
		c.logActivateFailure("", err)
	} else {
		for _, name := range partitions {
			if !c.names.Stale(name) {
				continue
			}
			if err := c.store.Drop(ctx, name); err != nil {
				c.logActivateFailure(name, err)
				continue
			}
			if c.logger != nil {
				c.logger.WithFields(logging.LifecycleFields(string(PhaseActivating), name)).
					Info("partition_pruned")
			}
		}
	}

	c.setPhase(PhaseActive)
	if c.onClaim != nil {
		c.onClaim(c.names)
	}
	if c.logger != nil {
		c.logger.WithFields(logging.LifecycleFields(string(PhaseActive), c.names.Static())).
			Info("activate_complete")
	}
	return nil
}

func (c *Controller) setPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

func (c *Controller) logActivateFailure(partition string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.WithError(err).
		WithFields(logging.LifecycleFields(string(PhaseActivating), partition)).
		Warn("partition_prune_failed")
}
