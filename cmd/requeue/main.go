package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/apk-analysis/dex-image-go/internal/config"
	"github.com/apk-analysis/dex-image-go/internal/domain"
	"github.com/apk-analysis/dex-image-go/internal/queue"
	"github.com/apk-analysis/dex-image-go/internal/repository"
)

// 把 failed 的渲染记录重置为 queued。启用 RabbitMQ 时直接发布，
// 否则由 server 启动时重新提交
func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dry-run", false, "只列出，不修改")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.InitLogger(&cfg.Log)
	ctx := context.Background()

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	repo := repository.NewRenderJobRepository(db)

	failed, err := repo.ListByStatus(ctx, domain.RenderStatusFailed)
	if err != nil {
		log.Fatalf("Failed to query failed jobs: %v", err)
	}
	fmt.Printf("找到 %d 个失败任务\n", len(failed))
	if *dryRun || len(failed) == 0 {
		for _, job := range failed {
			fmt.Printf("  %s  %s  %s\n", job.ID, job.APKName, job.ErrorMessage)
		}
		return
	}

	var producer *queue.Producer
	if cfg.RabbitMQ.Enabled {
		mq, err := queue.NewRabbitMQ(&queue.RabbitMQConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Password: cfg.RabbitMQ.Password,
			VHost:    cfg.RabbitMQ.VHost,
		}, cfg.RabbitMQ.Queue, 1, logger)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer mq.Close()
		producer = queue.NewProducer(mq, logger)
	}

	success := 0
	for i, job := range failed {
		job.Status = domain.RenderStatusQueued
		job.ErrorMessage = ""
		job.CompletedAt = nil
		if err := repo.Update(ctx, job); err != nil {
			log.Printf("❌ Failed to reset job %s: %v", job.ID, err)
			continue
		}

		if producer != nil {
			msg := &queue.RenderMessage{JobID: job.ID, APKName: job.APKName, APKPath: job.APKPath}
			if err := producer.PublishRender(ctx, msg); err != nil {
				log.Printf("❌ Failed to publish job %s: %v", job.ID, err)
				continue
			}
		}

		success++
		fmt.Printf("[%d/%d] ✓ %s (%s)\n", i+1, len(failed), job.APKName, job.ID)
	}

	fmt.Printf("\n完成: %d/%d 个任务已重新入队\n", success, len(failed))
	if producer == nil {
		fmt.Println("RabbitMQ 未启用，任务将在 server 启动时重新提交")
	}
}
