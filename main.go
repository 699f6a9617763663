package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/config"
	"github.com/tasky-app/tasky-offline/internal/lifecycle"
	"github.com/tasky-app/tasky-offline/internal/logging"
	"github.com/tasky-app/tasky-offline/internal/proxy"
	"github.com/tasky-app/tasky-offline/internal/routing"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/server/routes"
	"github.com/tasky-app/tasky-offline/internal/triggers"
	"github.com/tasky-app/tasky-offline/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origins"] = len(cfg.Origins)
		fields["modes"] = config.OriginModes(cfg.Origins)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	rules, err := config.LoadRules(cfg.Global.RulesPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载路由规则失败: %v\n", err)
		return 1
	}

	tables, err := routing.NewTables(rules)
	if err != nil {
		fmt.Fprintf(stdErr, "编译路由规则失败: %v\n", err)
		return 1
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Origin 注册表失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → 规则表 → Origin 注册表 → 分区存储 → 生命周期
	// → Fiber server”顺序：分区安装必须在对外监听之前完成，
	// 保证首个请求到达时 app shell 已经固化在静态分区里。
	store, err := cache.NewStore(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化分区存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	httpClient := server.NewUpstreamClient(cfg)
	appRoute := registry.App()

	names := cache.Names{Product: cfg.Global.Product, Version: cfg.Global.AppVersion}
	controller, err := lifecycle.NewController(lifecycle.Options{
		Store:    store,
		Fetcher:  proxy.NewUpstreamFetcher(httpClient),
		Names:    names,
		AppBase:  appRoute.UpstreamURL,
		Manifest: rules.Manifest,
		Logger:   logger,
		OnClaim: func(claimed cache.Names) {
			logger.WithFields(logrus.Fields{
				"action":    "claim",
				"partition": claimed.Static(),
			}).Info("分区接管完成")
		},
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建生命周期控制器失败: %v\n", err)
		return 1
	}

	// 安装失败必须让进程退出：残缺的静态分区不能对外服务。
	if err := controller.Install(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "安装静态分区失败: %v\n", err)
		return 1
	}
	if err := controller.Activate(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "激活分区失败: %v\n", err)
		return 1
	}

	registerTriggers(logger)

	classifier := routing.NewClassifier(tables)
	policy := routing.NewCacheability(appRoute.UpstreamURL.Host, tables)
	proxyHandler := proxy.NewHandler(httpClient, logger, store, classifier, policy, controller)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = len(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["modes"] = config.OriginModes(cfg.Origins)
	fields["static_partition"] = names.Static()
	fields["dynamic_partition"] = names.Dynamic()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, proxyHandler, controller, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// registerTriggers 注册默认的 background-sync / push 处理器。
// 重复注册（测试里连续 run）不算错误。
func registerTriggers(logger *logrus.Logger) {
	syncHandler := triggers.NewTaskSync(triggers.EmptySource{}, logger)
	if err := triggers.RegisterSync(triggers.TaskSyncTag, syncHandler); err != nil && !errors.Is(err, triggers.ErrDuplicateTrigger) {
		logger.WithError(err).Warn("注册 sync 触发器失败")
	}
	if err := triggers.RegisterPush(triggers.PushTag, triggers.NewPushPassthrough(logger)); err != nil && !errors.Is(err, triggers.ErrDuplicateTrigger) {
		logger.WithError(err).Warn("注册 push 触发器失败")
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tasky-offline", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TASKY_OFFLINE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TASKY_OFFLINE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, registry *server.OriginRegistry, proxyHandler server.ProxyHandler, controller *lifecycle.Controller, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, registry, controller, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
