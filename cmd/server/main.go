package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/config"
	"github.com/gerges15/minia-it-department-sub001/internal/api/handler"
	"github.com/gerges15/minia-it-department-sub001/internal/api/router"
	"github.com/gerges15/minia-it-department-sub001/internal/cache"
	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	"github.com/gerges15/minia-it-department-sub001/internal/service"
	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
	"github.com/gerges15/minia-it-department-sub001/pkg/kvstore"
	applogger "github.com/gerges15/minia-it-department-sub001/pkg/logger"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("TTS_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("hub", cfg.Hub.Endpoint()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 打开本地存储
	store, err := kvstore.Open(cfg, logger)
	if err != nil {
		logger.Fatal("打开本地存储失败", zap.Error(err))
	}
	timetableCache := cache.New(store, logger)

	// 4. 依赖注入: Connection → Service → Handler
	conn := hub.New(hub.Options{
		Endpoint:          cfg.Hub.Endpoint(),
		AccessToken:       cfg.Hub.AccessToken,
		SkipNegotiation:   cfg.Hub.SkipNegotiation,
		HandshakeTimeout:  cfg.Hub.HandshakeTimeout,
		KeepAliveInterval: cfg.Hub.KeepAliveInterval,
		ServerTimeout:     cfg.Hub.ServerTimeout,
		ReconnectDelays:   cfg.Hub.ReconnectDelays,
		InvokeTimeout:     cfg.Hub.InvokeTimeout,
	}, logger.Named("hub"))

	svc := service.NewService(cfg, conn, timetableCache, logger)
	h := handler.NewHandler(svc, logger)

	// 5. 启动会话（连接失败时降级运行：视图可读，命令返回 503，可手动重连）
	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.Hub.HandshakeTimeout+5*time.Second)
	if err := svc.Session.Start(startCtx); err != nil {
		logger.Warn("Hub 连接失败，会话以断开状态运行", zap.Error(err))
	}
	cancelStart()

	// 6. 初始化 JWT 管理器（未配置密钥时网关不认证）
	var jwtMgr *jwt.Manager
	if cfg.Gateway.JWTSecret != "" {
		jwtMgr = jwt.NewManager(cfg.Gateway.JWTSecret, 15*time.Minute)
	} else {
		logger.Warn("未配置 gateway.jwt_secret，网关接口不做认证")
	}

	// 7. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, logger)

	// 8. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Hub.InvokeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 关闭 Hub 连接
	if err := svc.Session.Stop(); err != nil {
		logger.Error("关闭 Hub 连接异常", zap.Error(err))
	}

	// 关闭本地存储
	if err := store.Close(); err != nil {
		logger.Error("关闭本地存储异常", zap.Error(err))
	}

	logger.Info("服务器已关闭")
}
