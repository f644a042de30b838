// Package render 把 APK 目录批量渲染为 DEX 特征图片。
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/apk"
	"github.com/apk-analysis/dex-image-go/internal/dex"
	"github.com/apk-analysis/dex-image-go/internal/domain"
	"github.com/apk-analysis/dex-image-go/internal/imaging"
	"github.com/apk-analysis/dex-image-go/internal/repository"
	"github.com/apk-analysis/dex-image-go/internal/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoDexEntries 容器合法但没有 DEX 条目（跳过，不算失败）
	ErrNoDexEntries = errors.New("no dex entries in container")
	// ErrEmptyImage 所有 DEX 条目都是空的，没有可写的像素
	ErrEmptyImage = errors.New("composite image is empty")
)

// MetricsRecorder 渲染指标
type MetricsRecorder interface {
	RecordContainerStarted()
	RecordContainerFinished(status string, dexCount int, duration time.Duration)
}

// EventSink 渲染事件订阅方
type EventSink interface {
	Publish(event Event)
}

// Event 单个容器的状态变化
type Event struct {
	JobID      string              `json:"job_id"`
	BatchID    string              `json:"batch_id,omitempty"`
	APKName    string              `json:"apk_name"`
	Status     domain.RenderStatus `json:"status"`
	OutputPath string              `json:"output_path,omitempty"`
	Error      string              `json:"error,omitempty"`
	Timestamp  int64               `json:"timestamp"`
}

// Options Driver 配置
type Options struct {
	Width       int
	OutputDir   string
	Format      imaging.Format
	Concurrency int
}

// ContainerResult 单个 APK 的处理结果
type ContainerResult struct {
	JobID      string              `json:"job_id"`
	APKName    string              `json:"apk_name"`
	APKPath    string              `json:"apk_path"`
	Status     domain.RenderStatus `json:"status"`
	DexEntries []string            `json:"dex_entries,omitempty"`
	DexBytes   int64               `json:"dex_bytes"`
	Width      int                 `json:"width,omitempty"`
	Height     int                 `json:"height,omitempty"`
	OutputPath string              `json:"output_path,omitempty"`
	Error      string              `json:"error,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// BatchReport 目录批处理报告
type BatchReport struct {
	BatchID    string            `json:"batch_id"`
	Dir        string            `json:"dir"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
	Results    []ContainerResult `json:"results"`
	Summary    BatchSummary      `json:"summary"`
}

// Driver 批处理驱动
type Driver struct {
	engine      *imaging.LayoutEngine
	outputDir   string
	format      imaging.Format
	concurrency int
	logger      *logrus.Logger

	jobs    repository.RenderJobRepository
	metrics MetricsRecorder
	events  EventSink
}

// NewDriver 创建批处理驱动
func NewDriver(opts Options, logger *logrus.Logger) (*Driver, error) {
	if opts.Width == 0 {
		opts.Width = imaging.DefaultWidth
	}
	engine, err := imaging.NewLayoutEngine(opts.Width, logger)
	if err != nil {
		return nil, err
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "images_rgb"
	}
	if opts.Format == "" {
		opts.Format = imaging.FormatPNG
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &Driver{
		engine:      engine,
		outputDir:   opts.OutputDir,
		format:      opts.Format,
		concurrency: opts.Concurrency,
		logger:      logger,
	}, nil
}

// SetJobRepository 设置渲染记录存储（可选）
func (d *Driver) SetJobRepository(repo repository.RenderJobRepository) {
	d.jobs = repo
}

// SetMetrics 设置指标收集器（可选）
func (d *Driver) SetMetrics(m MetricsRecorder) {
	d.metrics = m
}

// SetEventSink 设置事件订阅方（可选）
func (d *Driver) SetEventSink(sink EventSink) {
	d.events = sink
}

// OutputDir 图片输出目录
func (d *Driver) OutputDir() string {
	return d.outputDir
}

// Format 图片格式
func (d *Driver) Format() imaging.Format {
	return d.format
}

// ProcessDir 处理目录下所有 APK
//
// 单个容器的失败不会中断批次。ctx 结束后尚未打开的容器记为 cancelled。
func (d *Driver) ProcessDir(ctx context.Context, dir string) (*BatchReport, error) {
	paths, err := apk.ListContainers(dir)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{
		BatchID:   uuid.New().String(),
		Dir:       dir,
		StartedAt: time.Now(),
		Results:   make([]ContainerResult, len(paths)),
	}
	stats := NewBatchStats()

	log := d.logger.WithFields(logrus.Fields{
		"batch_id":   report.BatchID,
		"dir":        dir,
		"containers": len(paths),
	})
	if len(paths) == 0 {
		log.Info("No APK found in directory")
		report.Summary = stats.Snapshot()
		return report, nil
	}
	log.Info("Starting batch render")

	for i, p := range paths {
		report.Results[i] = ContainerResult{
			APKName: filepath.Base(p),
			APKPath: p,
			Status:  domain.RenderStatusCancelled,
		}
	}

	pool := worker.NewPool(d.concurrency, len(paths), func(ctx context.Context, task *worker.Task) error {
		report.Results[task.Index] = d.processContainer(ctx, "", task.APKPath, report.BatchID, stats)
		return nil
	}, d.logger)
	pool.Start(ctx)

	for i, p := range paths {
		if err := pool.Submit(&worker.Task{ID: fmt.Sprintf("%s-%d", report.BatchID, i), Index: i, APKPath: p}); err != nil {
			d.logger.WithError(err).WithField("apk", filepath.Base(p)).Error("Failed to submit container")
			report.Results[i].Status = domain.RenderStatusFailed
			report.Results[i].Error = err.Error()
			stats.AddResult(domain.RenderStatusFailed)
		}
	}
	pool.Stop()

	for _, res := range report.Results {
		if res.Status == domain.RenderStatusCancelled && res.JobID == "" {
			stats.AddResult(domain.RenderStatusCancelled)
		}
	}

	report.DurationMs = time.Since(report.StartedAt).Milliseconds()
	report.Summary = stats.Snapshot()

	log.WithFields(logrus.Fields{
		"rendered":    report.Summary.Rendered,
		"skipped":     report.Summary.Skipped,
		"failed":      report.Summary.Failed,
		"cancelled":   report.Summary.Cancelled,
		"duration_ms": report.DurationMs,
	}).Info("Batch render finished")

	return report, nil
}

// ProcessContainer 处理单个 APK
func (d *Driver) ProcessContainer(ctx context.Context, apkPath string) ContainerResult {
	return d.processContainer(ctx, "", apkPath, "", NewBatchStats())
}

// ProcessJob 处理已入队的渲染任务，沿用入队时的 jobID
func (d *Driver) ProcessJob(ctx context.Context, jobID, apkPath string) ContainerResult {
	return d.processContainer(ctx, jobID, apkPath, "", NewBatchStats())
}

func (d *Driver) processContainer(ctx context.Context, jobID, apkPath, batchID string, stats *BatchStats) (res ContainerResult) {
	start := time.Now()
	queued := jobID != ""
	if !queued {
		jobID = uuid.New().String()
	}
	res = ContainerResult{
		JobID:   jobID,
		APKName: filepath.Base(apkPath),
		APKPath: apkPath,
		Status:  domain.RenderStatusRendering,
	}
	log := d.logger.WithFields(logrus.Fields{
		"job_id": res.JobID,
		"apk":    res.APKName,
	})

	job := &domain.RenderJob{
		ID:          res.JobID,
		BatchID:     batchID,
		APKName:     res.APKName,
		APKPath:     apkPath,
		Status:      domain.RenderStatusRendering,
		Width:       d.engine.Width(),
		ImageFormat: string(d.format),
	}
	if queued && d.jobs != nil {
		if existing, err := d.jobs.FindByID(context.WithoutCancel(ctx), jobID); err == nil {
			job.CreatedAt = existing.CreatedAt
		}
	}
	d.saveJob(context.WithoutCancel(ctx), job, !queued)
	if d.metrics != nil {
		d.metrics.RecordContainerStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic while rendering container")
			res.Status = domain.RenderStatusFailed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.DurationMs = time.Since(start).Milliseconds()
		stats.AddResult(res.Status)
		d.finish(ctx, job, res, log)
	}()

	if err := ctx.Err(); err != nil {
		res.Status = domain.RenderStatusCancelled
		res.Error = err.Error()
		return res
	}

	log.Info("Processing container")

	entries, err := apk.ReadDexEntries(apkPath)
	if err != nil {
		res.Status = domain.RenderStatusFailed
		res.Error = err.Error()
		return res
	}
	for _, e := range entries {
		res.DexEntries = append(res.DexEntries, e.Name)
		res.DexBytes += int64(len(e.Data))
	}

	grid, err := d.Render(entries, stats)
	if err != nil {
		if errors.Is(err, ErrNoDexEntries) || errors.Is(err, ErrEmptyImage) {
			res.Status = domain.RenderStatusSkipped
		} else {
			res.Status = domain.RenderStatusFailed
		}
		res.Error = err.Error()
		return res
	}

	outPath, err := d.write(apkPath, grid)
	if err != nil {
		res.Status = domain.RenderStatusFailed
		res.Error = err.Error()
		return res
	}

	res.Status = domain.RenderStatusRendered
	res.Width = grid.Width
	res.Height = grid.Height
	res.OutputPath = outPath
	return res
}

// Render 把一个容器内的 DEX 条目按顺序渲染并纵向拼接
func (d *Driver) Render(entries []apk.DexEntry, stats *BatchStats) (*imaging.PixelGrid, error) {
	if len(entries) == 0 {
		return nil, ErrNoDexEntries
	}

	grids := make([]*imaging.PixelGrid, 0, len(entries))
	for _, e := range entries {
		sections := dex.ExtractSections(e.Data)
		if stats != nil {
			stats.AddSections(sections, len(e.Data))
		}
		grids = append(grids, d.engine.Layout(dex.BuildChannels(sections, len(e.Data))))
	}

	composite, err := imaging.Stack(grids)
	if err != nil {
		return nil, err
	}
	if composite.Height == 0 {
		return nil, ErrEmptyImage
	}
	return composite, nil
}

// write 写入输出目录，目录不存在时创建
func (d *Driver) write(apkPath string, grid *imaging.PixelGrid) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	outPath := filepath.Join(d.outputDir, apk.OutputName(apkPath, d.format.Extension()))
	if err := imaging.WriteFile(outPath, grid, d.format); err != nil {
		return "", err
	}
	return outPath, nil
}

// finish 记录结果：日志、指标、事件、数据库
func (d *Driver) finish(ctx context.Context, job *domain.RenderJob, res ContainerResult, log *logrus.Entry) {
	switch res.Status {
	case domain.RenderStatusRendered:
		log.WithFields(logrus.Fields{
			"output":    res.OutputPath,
			"dex_count": len(res.DexEntries),
			"height":    res.Height,
		}).Info("Saved image")
	case domain.RenderStatusSkipped:
		log.WithField("reason", res.Error).Info("Skipping container")
	case domain.RenderStatusCancelled:
		log.Warn("Container cancelled before processing")
	default:
		log.WithField("error", res.Error).Error("Failed to process container")
	}

	if d.metrics != nil {
		d.metrics.RecordContainerFinished(string(res.Status), len(res.DexEntries), time.Duration(res.DurationMs)*time.Millisecond)
	}

	if d.events != nil {
		d.events.Publish(Event{
			JobID:      res.JobID,
			BatchID:    job.BatchID,
			APKName:    res.APKName,
			Status:     res.Status,
			OutputPath: res.OutputPath,
			Error:      res.Error,
			Timestamp:  time.Now().Unix(),
		})
	}

	now := time.Now().UTC()
	job.Status = res.Status
	job.ErrorMessage = res.Error
	job.DexCount = len(res.DexEntries)
	job.DexBytes = res.DexBytes
	job.Height = res.Height
	job.OutputPath = res.OutputPath
	job.DurationMs = res.DurationMs
	job.CompletedAt = &now
	d.saveJob(context.WithoutCancel(ctx), job, false)
}

// saveJob 数据库写入失败只记录日志，不影响渲染
func (d *Driver) saveJob(ctx context.Context, job *domain.RenderJob, create bool) {
	if d.jobs == nil {
		return
	}

	var err error
	if create {
		err = d.jobs.Create(ctx, job)
	} else {
		err = d.jobs.Update(ctx, job)
	}
	if err != nil {
		d.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to save render job")
	}
}
