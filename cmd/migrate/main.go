package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/apk-analysis/dex-image-go/internal/config"
	"github.com/apk-analysis/dex-image-go/internal/repository"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	fmt.Printf("✓ Migration completed successfully (%s)\n", cfg.Database.Type)
}
