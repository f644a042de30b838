package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/api"
	"github.com/apk-analysis/dex-image-go/internal/api/handlers"
	"github.com/apk-analysis/dex-image-go/internal/config"
	"github.com/apk-analysis/dex-image-go/internal/imaging"
	"github.com/apk-analysis/dex-image-go/internal/middleware"
	"github.com/apk-analysis/dex-image-go/internal/queue"
	"github.com/apk-analysis/dex-image-go/internal/render"
	"github.com/apk-analysis/dex-image-go/internal/repository"
	"github.com/apk-analysis/dex-image-go/internal/service"
	"github.com/apk-analysis/dex-image-go/internal/watcher"
	"github.com/sirupsen/logrus"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	fmt.Printf("DEX Image Render Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting DEX render service %s", Version)
	logger.Infof("Config loaded from: %s", *configPath)

	// 3. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	jobRepo := repository.NewRenderJobRepository(db)

	// 清理因服务重启而中断的记录
	if n, err := jobRepo.MarkInterrupted(context.Background(), "service restarted while rendering"); err != nil {
		logger.WithError(err).Warn("Failed to cleanup interrupted render jobs")
	} else if n > 0 {
		logger.Infof("Marked %d interrupted render jobs as failed", n)
	}

	// 4. 指标与事件推送
	promMetrics := middleware.NewPrometheusMetrics(logger, "dex_render")
	hub := handlers.NewProgressHub(logger)
	hub.Start()
	defer hub.Stop()

	// 5. 渲染驱动
	imgFormat, err := imaging.ParseFormat(cfg.Render.ImageFormat)
	if err != nil {
		logger.Fatalf("Invalid image format: %v", err)
	}
	driver, err := render.NewDriver(render.Options{
		Width:       cfg.Render.Width,
		OutputDir:   cfg.Render.OutputDir,
		Format:      imgFormat,
		Concurrency: cfg.Render.Concurrency,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create render driver: %v", err)
	}
	driver.SetJobRepository(jobRepo)
	driver.SetMetrics(promMetrics)
	driver.SetEventSink(hub)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 6. 消息队列（可选）
	var publisher service.RenderPublisher
	var mq *queue.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		mq, err = queue.NewRabbitMQ(&queue.RabbitMQConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Password: cfg.RabbitMQ.Password,
			VHost:    cfg.RabbitMQ.VHost,
		}, cfg.RabbitMQ.Queue, cfg.Render.Concurrency, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer mq.Close()
		publisher = queue.NewProducer(mq, logger)
	} else {
		logger.Info("RabbitMQ disabled, render requests run in-process")
	}

	renderService := service.NewRenderService(rootCtx, driver, jobRepo, publisher, logger)

	if mq != nil {
		consumer := queue.NewConsumer(mq, renderService.HandleMessage, cfg.Render.Concurrency, logger)
		consumer.SetRecorder(promMetrics)
		if err := consumer.Start(rootCtx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
	}

	// 服务重启后以数据库为准重新提交排队中的任务
	if n, err := renderService.ResumeQueued(rootCtx); err != nil {
		logger.WithError(err).Warn("Failed to resume queued render jobs")
	} else if n > 0 {
		logger.Infof("Resumed %d queued render jobs", n)
	}

	// 7. 输入目录监控（可选）
	if cfg.Watcher.Enabled {
		fileWatcher, err := watcher.NewFileWatcher(watcher.Options{
			Dir:      cfg.Render.InputDir,
			Pattern:  cfg.Watcher.Pattern,
			Debounce: time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond,
		}, createFileHandler(renderService, logger), logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		defer fileWatcher.Stop()
		fileWatcher.Start(rootCtx)
		logger.Infof("File watcher started for directory: %s", cfg.Render.InputDir)
	}

	// 8. HTTP Server
	router := api.SetupRouter(cfg, logger, handlers.NewRenderHandler(renderService, logger), hub, promMetrics)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute, // 批处理接口同步返回
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 9. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	// 未开始的容器记为 cancelled，正在写的图片写完
	rootCancel()
	renderService.Wait()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("Server stopped")
}

// createFileHandler 新 APK 写入完成后提交渲染
func createFileHandler(renderService service.RenderService, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		job, err := renderService.SubmitRender(ctx, filePath)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"apk_name": job.APKName,
		}).Info("Render job created from watched file")
		return nil
	}
}
