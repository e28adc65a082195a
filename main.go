package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/cache"
	"github.com/epm-hub/pad-engine/internal/config"
	"github.com/epm-hub/pad-engine/internal/engine"
	"github.com/epm-hub/pad-engine/internal/logging"
	"github.com/epm-hub/pad-engine/internal/metadata"
	"github.com/epm-hub/pad-engine/internal/metrics"
	"github.com/epm-hub/pad-engine/internal/repository"
	"github.com/epm-hub/pad-engine/internal/server"
	"github.com/epm-hub/pad-engine/internal/server/routes"
	"github.com/epm-hub/pad-engine/internal/version"
)

// configEnv 允许通过环境变量指定配置文件路径，优先级低于 --config。
const configEnv = "PAD_ENGINE_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	inspectPath string
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
	if opts.inspectPath != "" {
		return inspectArchive(opts.inspectPath)
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
		fields["packages_path"] = cfg.Global.PackagesPath
		fields["cache_path"] = cfg.Global.CachePath
		fields["formats"] = archive.Extensions()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存布局 → 包仓库 → 引擎 → Fiber server，
	// 所有请求共享同一个引擎队列与缓存目录锁。
	layout, err := cache.NewLayout(cfg.Global.CachePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}
	repo, err := repository.New(cfg.Global.PackagesPath, layout)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化包仓库失败: %v\n", err)
		return 1
	}

	collector := metrics.New()
	eng, err := engine.New(engine.Options{
		Logger:  logger,
		Metrics: collector,
		Workers: cfg.Global.MaxConcurrentJobs,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化引擎失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["packages_path"] = cfg.Global.PackagesPath
	fields["cache_path"] = cfg.Global.CachePath
	fields["workers"] = cfg.Global.MaxConcurrentJobs
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	serveErr := startHTTPServer(cfg, repo, eng, collector, logger)
	if err := eng.Close(); err != nil {
		logger.WithError(err).Warn("engine close failed")
	}
	if serveErr != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", serveErr)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("pad-engine", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		inspectPath string
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVarP(&showVer, "version", "v", false, "显示版本信息")
	fs.StringVar(&inspectPath, "inspect", "", "读取指定归档的 package.json 并以 JSON 输出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
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
		inspectPath: inspectPath,
	}, nil
}

// inspectArchive 直接读取归档元数据并输出，不依赖配置文件。
func inspectArchive(path string) int {
	ctx := context.Background()
	meta, err := metadata.Read(ctx, archive.NewReader(), path)
	if err != nil {
		fmt.Fprintf(stdErr, "读取元数据失败: %v\n", err)
		return 1
	}

	payload := struct {
		File     string             `json:"file"`
		UID      string             `json:"uid"`
		ShortUID string             `json:"short_uid"`
		Tags     []string           `json:"tags"`
		Files    []string           `json:"files"`
		Metadata *metadata.Metadata `json:"metadata"`
	}{
		File:     path,
		UID:      meta.UID,
		ShortUID: metadata.CutUID(meta.UID),
		Tags:     metadata.Tags(meta),
		Files:    meta.Files(),
		Metadata: meta,
	}

	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintf(stdErr, "输出失败: %v\n", err)
		return 1
	}
	return 0
}

func startHTTPServer(cfg *config.Config, repo *repository.Repository, eng *engine.Engine, collector *metrics.Collector, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Repository:   repo,
		Engine:       eng,
		ListenPort:   port,
		ReadTimeout:  cfg.Global.ReadTimeout.DurationValue(),
		WriteTimeout: cfg.Global.WriteTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterFormatRoutes(app)
	routes.RegisterMetricsRoute(app, collector)
	server.RegisterFallback(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，停止接收请求")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
