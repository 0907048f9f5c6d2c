package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"chain-stream-sol/internal/config"
	"chain-stream-sol/internal/core"
	"chain-stream-sol/internal/handler"
	"chain-stream-sol/internal/pkg/configloader"
	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/rest"
	"chain-stream-sol/internal/svc"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/chain-stream-svc/test.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()
	defer logger.Sync()

	flag.Parse()
	logger.Infof("Loading config from %s", *configFile)

	// 加载配置
	var c config.Config
	if err := configloader.LoadConfig(*configFile, &c); err != nil {
		panic(fmt.Sprintf("配置加载失败: %v", err))
	}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("配置校验失败: %v", err))
	}

	// 初始化 zap 日志
	logger.InitLogger(c.LogConf.ToLogOption())
	logx.SetWriter(logger.ZapWriter{})

	// 初始化依赖注入上下文
	svcCtx := svc.NewServiceContext(&c)

	app, err := core.NewApp(svcCtx)
	if err != nil {
		panic(fmt.Sprintf("应用初始化失败: %v", err))
	}

	// 构造 go-zero ServiceGroup 管理服务
	sg := zerosvc.NewServiceGroup()
	sg.Add(app)
	sg.Add(initializeRestServer(&c, app))

	// 启动服务
	logger.Infof("chain stream starting")
	sg.Start()

	// 等待退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down services...")
	sg.Stop()
}

func initializeRestServer(c *config.Config, app *core.App) *rest.SimpleRestServer {
	healthCheck := handler.HealthCheck(app)
	routes := map[string]http.HandlerFunc{
		"/healthz":          healthCheck,
		"/health/readiness": healthCheck,
		"/health/liveness":  healthCheck,
		"/stats":            handler.Stats(app),
		"/pools":            handler.Pools(app),
		"/wallets":          handler.Wallets(app),
		"/wallets/top":      handler.TopWallets(app),
		"/wallets/activity": handler.WalletActivity(app),
	}
	return rest.NewSimpleRestServer(c.Server.Port, routes)
}
