package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/apk"
	"github.com/apk-analysis/dex-image-go/internal/domain"
	"github.com/apk-analysis/dex-image-go/internal/queue"
	"github.com/apk-analysis/dex-image-go/internal/render"
	"github.com/apk-analysis/dex-image-go/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound 渲染记录不存在
	ErrJobNotFound = errors.New("render job not found")
	// ErrInvalidInput 路径不存在或不是 APK
	ErrInvalidInput = errors.New("invalid input")
	// ErrImageNotReady 任务尚未生成图片
	ErrImageNotReady = errors.New("image not ready")
)

// Runner 渲染执行方，由 render.Driver 实现
type Runner interface {
	ProcessDir(ctx context.Context, dir string) (*render.BatchReport, error)
	ProcessJob(ctx context.Context, jobID, apkPath string) render.ContainerResult
}

// RenderPublisher 渲染请求发布方，由 queue.Producer 实现
type RenderPublisher interface {
	PublishRender(ctx context.Context, msg *queue.RenderMessage) error
}

// RenderService 渲染服务接口
type RenderService interface {
	// 同步处理整个目录
	RunBatch(ctx context.Context, dir string) (*render.BatchReport, error)

	// 提交单个 APK，入队或后台执行
	SubmitRender(ctx context.Context, apkPath string) (*domain.RenderJob, error)

	// 重新提交 queued 状态的记录，返回提交数量
	ResumeQueued(ctx context.Context) (int, error)

	// 处理队列消息
	HandleMessage(ctx context.Context, msg *queue.RenderMessage) error

	GetJob(ctx context.Context, id string) (*domain.RenderJob, error)
	ListJobs(ctx context.Context, limit int) ([]*domain.RenderJob, error)

	// 已渲染图片的路径
	ImagePath(ctx context.Context, id string) (string, error)

	StatusCounts(ctx context.Context) (map[domain.RenderStatus]int64, error)

	// 等待后台渲染结束
	Wait()
}

type renderService struct {
	runner    Runner
	jobs      repository.RenderJobRepository
	publisher RenderPublisher
	baseCtx   context.Context
	wg        sync.WaitGroup
	logger    *logrus.Logger
}

// NewRenderService 创建渲染服务。publisher 为 nil 时在后台直接渲染，使用 baseCtx
func NewRenderService(baseCtx context.Context, runner Runner, jobs repository.RenderJobRepository, publisher RenderPublisher, logger *logrus.Logger) RenderService {
	return &renderService{
		runner:    runner,
		jobs:      jobs,
		publisher: publisher,
		baseCtx:   baseCtx,
		logger:    logger,
	}
}

func (s *renderService) RunBatch(ctx context.Context, dir string) (*render.BatchReport, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidInput, dir)
	}
	return s.runner.ProcessDir(ctx, dir)
}

func (s *renderService) SubmitRender(ctx context.Context, apkPath string) (*domain.RenderJob, error) {
	if !apk.IsContainer(apkPath) {
		return nil, fmt.Errorf("%w: %s is not an .apk file", ErrInvalidInput, apkPath)
	}
	info, err := os.Stat(apkPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidInput, apkPath)
	}

	job := &domain.RenderJob{
		ID:        uuid.New().String(),
		APKName:   filepath.Base(apkPath),
		APKPath:   apkPath,
		Status:    domain.RenderStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create render job: %w", err)
	}

	if err := s.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *renderService) ResumeQueued(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListByStatus(ctx, domain.RenderStatusQueued)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range jobs {
		if err := s.dispatch(ctx, job); err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to resume queued job")
			continue
		}
		n++
	}
	return n, nil
}

// dispatch 有队列时发布消息，否则后台渲染
func (s *renderService) dispatch(ctx context.Context, job *domain.RenderJob) error {
	log := s.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"apk_name": job.APKName,
	})

	if s.publisher != nil {
		msg := &queue.RenderMessage{JobID: job.ID, APKName: job.APKName, APKPath: job.APKPath}
		if err := s.publisher.PublishRender(ctx, msg); err != nil {
			job.Status = domain.RenderStatusFailed
			job.ErrorMessage = err.Error()
			if uerr := s.jobs.Update(context.WithoutCancel(ctx), job); uerr != nil {
				log.WithError(uerr).Warn("Failed to mark render job failed")
			}
			return err
		}
		log.Info("Render job queued")
		return nil
	}

	s.wg.Add(1)
	go func(id, path string) {
		defer s.wg.Done()
		s.runner.ProcessJob(s.baseCtx, id, path)
	}(job.ID, job.APKPath)
	log.Info("Render job started")
	return nil
}

// HandleMessage 渲染失败时返回错误，消息会被拒绝
func (s *renderService) HandleMessage(ctx context.Context, msg *queue.RenderMessage) error {
	res := s.runner.ProcessJob(ctx, msg.JobID, msg.APKPath)
	if res.Status == domain.RenderStatusFailed {
		return errors.New(res.Error)
	}
	return nil
}

func (s *renderService) GetJob(ctx context.Context, id string) (*domain.RenderJob, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *renderService) ListJobs(ctx context.Context, limit int) ([]*domain.RenderJob, error) {
	return s.jobs.ListRecent(ctx, limit)
}

func (s *renderService) ImagePath(ctx context.Context, id string) (string, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != domain.RenderStatusRendered || job.OutputPath == "" {
		return "", fmt.Errorf("%w: job is %s", ErrImageNotReady, job.Status)
	}
	return job.OutputPath, nil
}

func (s *renderService) StatusCounts(ctx context.Context) (map[domain.RenderStatus]int64, error) {
	return s.jobs.CountByStatus(ctx)
}

func (s *renderService) Wait() {
	s.wg.Wait()
}
