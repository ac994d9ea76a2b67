package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/handler"
	"github.com/dsquare0601/furniture-design-backend/middleware"
	"github.com/dsquare0601/furniture-design-backend/service"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting furniture segmentation server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	// 确保临时目录存在
	if err := os.MkdirAll(cfg.Upload.TempDir, 0755); err != nil {
		utils.Logger.Fatal("failed to create temp directory", zap.Error(err))
	}

	// 初始化Redis，连接失败时禁用缓存
	redisService := service.NewRedisService(&cfg.Redis)
	var cache handler.MaskCache
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
		cache = redisService
	}
	defer redisService.Close()

	// 加载SAM2模型（进程内只加载一次）
	sam2Service, err := service.NewSAM2Service(&cfg.SAM2)
	if err != nil {
		utils.Logger.Fatal("failed to load SAM2 model", zap.Error(err))
	}
	defer sam2Service.Close()

	// 初始化分割策略
	colorSegmenter := service.NewColorSegmenter(cfg.Upload.TempDir)
	autoSegmenter := service.NewAutoSegmenter(sam2Service, &cfg.SAM2, cfg.Upload.TempDir)
	interactiveSegmenter := service.NewInteractiveSegmenter(sam2Service, &cfg.SAM2, cfg.Upload.TempDir)
	previewService := service.NewPreviewService(cfg.Upload.TempDir)

	// 启动临时目录清理
	cleanupService := service.NewCleanupService(&cfg.Cleanup, cfg.Upload.TempDir)
	if err := cleanupService.Start(); err != nil {
		utils.Logger.Fatal("failed to start cleanup scheduler", zap.Error(err))
	}
	defer cleanupService.Stop()

	// 初始化Handler
	segmentHandler := handler.NewSegmentHandler(cfg, cache, colorSegmenter, autoSegmenter, interactiveSegmenter)
	downloadHandler := handler.NewDownloadHandler(cfg)
	previewHandler := handler.NewPreviewHandler(previewService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
			"device":  sam2Service.Device(),
		})
	})

	// API路由
	segment := r.Group("/segment")
	{
		segment.POST("/color", segmentHandler.SegmentColor)
		segment.POST("/sam2-auto", segmentHandler.SegmentAuto)
		segment.POST("/sam2-interactive", segmentHandler.SegmentInteractive)
	}
	r.GET("/download/:filename", downloadHandler.Download)
	r.POST("/preview", previewHandler.Preview)

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("addr", cfg.Server.Addr()))
	if err := r.Run(cfg.Server.Addr()); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
