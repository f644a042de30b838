// Package main 命令行批量渲染 APK 目录。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/apk-analysis/dex-image-go/internal/apk"
	"github.com/apk-analysis/dex-image-go/internal/cli"
	"github.com/apk-analysis/dex-image-go/internal/config"
	"github.com/apk-analysis/dex-image-go/internal/dex"
	"github.com/apk-analysis/dex-image-go/internal/imaging"
	"github.com/apk-analysis/dex-image-go/internal/render"
)

var (
	configPath  = flag.String("config", "", "配置文件路径 (YAML)")
	inputDir    = flag.String("dir", "", "APK 目录，默认使用配置 render.input_dir")
	outputDir   = flag.String("out", "", "图片输出目录，默认使用配置 render.output_dir")
	width       = flag.Int("width", 0, "网格宽度，默认 256")
	format      = flag.String("format", "", "图片格式: png, bmp, tiff")
	concurrency = flag.Int("concurrency", 0, "同时处理的 APK 数量")
	timeout     = flag.Duration("timeout", 0, "批处理超时，例如 10m")
	sections    = flag.String("sections", "", "输出单个 .dex 或 .apk 的段信息，不渲染")
	verbose     = flag.Bool("v", false, "显示每个 APK 的 DEX 条目和段字节统计")
	jsonOut     = flag.Bool("json", false, "以 JSON 输出报告")
)

func main() {
	flag.Parse()

	reporter := cli.NewReporter(os.Stdout)
	reporter.SetVerbose(*verbose)

	if err := run(reporter); err != nil {
		cli.NewReporter(os.Stderr).PrintError(err)
		os.Exit(1)
	}
}

func run(reporter *cli.Reporter) error {
	if *sections != "" {
		return printSections(reporter, *sections)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)

	logger := config.InitLogger(&cfg.Log)

	imgFormat, err := imaging.ParseFormat(cfg.Render.ImageFormat)
	if err != nil {
		return err
	}

	driver, err := render.NewDriver(render.Options{
		Width:       cfg.Render.Width,
		OutputDir:   cfg.Render.OutputDir,
		Format:      imgFormat,
		Concurrency: cfg.Render.Concurrency,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Render.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Render.BatchTimeout)
		defer cancel()
	}

	report, err := driver.ProcessDir(ctx, cfg.Render.InputDir)
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	reporter.PrintBatch(report)
	return nil
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default()
	}
	return config.Load(*configPath)
}

// applyFlags 命令行参数优先于配置文件
func applyFlags(cfg *config.Config) {
	if *inputDir != "" {
		cfg.Render.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Render.OutputDir = *outputDir
	}
	if *width != 0 {
		cfg.Render.Width = *width
	}
	if *format != "" {
		cfg.Render.ImageFormat = *format
	}
	if *concurrency != 0 {
		cfg.Render.Concurrency = *concurrency
	}
	if *timeout > 0 {
		cfg.Render.BatchTimeout = *timeout
	}
	if flag.NArg() > 0 && *inputDir == "" {
		cfg.Render.InputDir = flag.Arg(0)
	}
}

func printSections(reporter *cli.Reporter, path string) error {
	if apk.IsDex(path) {
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		reporter.PrintSections(filepath.Base(path), dex.Summarize(blob))
		return nil
	}

	entries, err := apk.ReadDexEntries(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return render.ErrNoDexEntries
	}
	for _, e := range entries {
		reporter.PrintSections(e.Name, dex.Summarize(e.Data))
	}
	return nil
}
