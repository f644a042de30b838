package repository

import (
	"context"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/domain"
	"gorm.io/gorm"
)

// RenderJobRepository 渲染记录 Repository
type RenderJobRepository interface {
	Create(ctx context.Context, job *domain.RenderJob) error
	Update(ctx context.Context, job *domain.RenderJob) error
	FindByID(ctx context.Context, id string) (*domain.RenderJob, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.RenderJob, error)
	ListByBatch(ctx context.Context, batchID string) ([]*domain.RenderJob, error)
	ListByStatus(ctx context.Context, status domain.RenderStatus) ([]*domain.RenderJob, error)
	CountByStatus(ctx context.Context) (map[domain.RenderStatus]int64, error)
	MarkInterrupted(ctx context.Context, reason string) (int64, error)
}

type renderJobRepo struct {
	db *gorm.DB
}

// NewRenderJobRepository 创建渲染记录 Repository
func NewRenderJobRepository(db *gorm.DB) RenderJobRepository {
	return &renderJobRepo{db: db}
}

func (r *renderJobRepo) Create(ctx context.Context, job *domain.RenderJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Update 按主键保存，记录不存在时插入
func (r *renderJobRepo) Update(ctx context.Context, job *domain.RenderJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *renderJobRepo) FindByID(ctx context.Context, id string) (*domain.RenderJob, error) {
	var job domain.RenderJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRecent 按创建时间倒序
func (r *renderJobRepo) ListRecent(ctx context.Context, limit int) ([]*domain.RenderJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []*domain.RenderJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ListByBatch 同一批次的记录，按 APK 名称排序
func (r *renderJobRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.RenderJob, error) {
	var jobs []*domain.RenderJob
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("apk_name ASC").
		Find(&jobs).Error
	return jobs, err
}

// ListByStatus 指定状态的记录，按创建时间正序
func (r *renderJobRepo) ListByStatus(ctx context.Context, status domain.RenderStatus) ([]*domain.RenderJob, error) {
	var jobs []*domain.RenderJob
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// CountByStatus 各状态记录数量
func (r *renderJobRepo) CountByStatus(ctx context.Context) (map[domain.RenderStatus]int64, error) {
	var rows []struct {
		Status domain.RenderStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.RenderJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.RenderStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// MarkInterrupted 服务重启时把 rendering 状态的记录标记为 failed。
// queued 记录仍在队列中，不处理
func (r *renderJobRepo) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.RenderJob{}).
		Where("status = ?", domain.RenderStatusRendering).
		Updates(map[string]interface{}{
			"status":        domain.RenderStatusFailed,
			"error_message": reason,
			"completed_at":  time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
