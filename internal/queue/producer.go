package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/apk-analysis/dex-image-go/internal/retry"
	"github.com/sirupsen/logrus"
)

// ErrInvalidMessage 消息缺少必填字段
var ErrInvalidMessage = errors.New("invalid render message")

// RenderMessage 单个 APK 的渲染请求
type RenderMessage struct {
	JobID   string `json:"job_id"`
	APKName string `json:"apk_name"`
	APKPath string `json:"apk_path"`
}

// Validate 检查必填字段，APKName 缺省时取路径文件名
func (m *RenderMessage) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidMessage)
	}
	if m.APKPath == "" {
		return fmt.Errorf("%w: apk_path is required", ErrInvalidMessage)
	}
	if m.APKName == "" {
		m.APKName = filepath.Base(m.APKPath)
	}
	return nil
}

// EncodeMessage 序列化渲染请求
func EncodeMessage(msg *RenderMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeMessage 反序列化并校验渲染请求
func DecodeMessage(body []byte) (*RenderMessage, error) {
	var msg RenderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Publisher 消息发布方
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Producer 消息生产者
type Producer struct {
	publisher Publisher
	retry     *retry.Config
	logger    *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(publisher Publisher, logger *logrus.Logger) *Producer {
	cfg := retry.DefaultConfig()
	cfg.Logger = logger
	return &Producer{
		publisher: publisher,
		retry:     cfg,
		logger:    logger,
	}
}

// SetRetryConfig 覆盖发布重试配置
func (p *Producer) SetRetryConfig(cfg *retry.Config) {
	p.retry = cfg
}

// PublishRender 发布渲染请求，失败按配置重试
func (p *Producer) PublishRender(ctx context.Context, msg *RenderMessage) error {
	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	if err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, body)
	}); err != nil {
		p.logger.WithError(err).WithField("job_id", msg.JobID).Error("Failed to publish render request")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"apk_name": msg.APKName,
	}).Info("Render request published to queue")

	return nil
}
