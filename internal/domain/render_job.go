package domain

import "time"

// RenderStatus 渲染任务状态
type RenderStatus string

const (
	RenderStatusQueued    RenderStatus = "queued"
	RenderStatusRendering RenderStatus = "rendering"
	RenderStatusRendered  RenderStatus = "rendered"
	RenderStatusSkipped   RenderStatus = "skipped" // 容器中没有 DEX
	RenderStatusFailed    RenderStatus = "failed"
	RenderStatusCancelled RenderStatus = "cancelled" // 批次超时，容器未被打开
)

// IsFinal 是否为终态
func (s RenderStatus) IsFinal() bool {
	switch s {
	case RenderStatusRendered, RenderStatusSkipped, RenderStatusFailed, RenderStatusCancelled:
		return true
	}
	return false
}

// RenderJob 单个 APK 容器的渲染记录
type RenderJob struct {
	ID      string `gorm:"type:varchar(36);primaryKey" json:"id"`
	BatchID string `gorm:"type:varchar(36);index:idx_batch_id" json:"batch_id,omitempty"`

	APKName string `gorm:"type:varchar(255);not null;index:idx_apk_name" json:"apk_name"`
	APKPath string `gorm:"type:varchar(1024)" json:"apk_path"`

	Status       RenderStatus `gorm:"type:varchar(20);default:'queued';index:idx_status" json:"status"`
	ErrorMessage string       `gorm:"type:text" json:"error_message,omitempty"`

	// 渲染结果
	DexCount    int    `gorm:"default:0" json:"dex_count"`
	DexBytes    int64  `gorm:"default:0" json:"dex_bytes"`
	Width       int    `gorm:"default:0" json:"width"`
	Height      int    `gorm:"default:0" json:"height"`
	ImageFormat string `gorm:"type:varchar(10)" json:"image_format,omitempty"`
	OutputPath  string `gorm:"type:varchar(1024)" json:"output_path,omitempty"`

	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (RenderJob) TableName() string {
	return "render_jobs"
}
