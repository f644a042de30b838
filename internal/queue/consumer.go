package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler 渲染请求处理函数
type Handler func(ctx context.Context, msg *RenderMessage) error

// MessageRecorder 记录消息处理结果：ack, nack, invalid
type MessageRecorder interface {
	RecordQueueMessage(result string)
}

// defaultReconnectDelay 重连失败后再次尝试前的等待时间
const defaultReconnectDelay = 30 * time.Second

// broker 消费者依赖的连接操作，由 *RabbitMQ 实现
type broker interface {
	Consume() (<-chan amqp.Delivery, error)
	StartConnectionWatcher()
	ReconnectChan() <-chan bool
	Reconnect(ctx context.Context) error
	triggerReconnect()
}

// Consumer 消息消费者
type Consumer struct {
	mq             broker
	logger         *logrus.Logger
	handler        Handler
	recorder       MessageRecorder
	workers        int
	workerWg       sync.WaitGroup
	activeWorkers  int32
	mu             sync.Mutex
	running        bool
	cancelFunc     context.CancelFunc
	reconnectDelay time.Duration
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler Handler, workers int, logger *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		mq:             mq,
		logger:         logger,
		handler:        handler,
		workers:        workers,
		reconnectDelay: defaultReconnectDelay,
	}
}

// SetRecorder 设置消息指标（可选）
func (c *Consumer) SetRecorder(r MessageRecorder) {
	c.recorder = r
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.startWorkers(ctx); err != nil {
		return err
	}

	c.mq.StartConnectionWatcher()
	go c.handleReconnect(ctx)
	return nil
}

func (c *Consumer) startWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}

	msgs, err := c.mq.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.running = true

	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.worker(workerCtx, i, msgs)
	}

	c.logger.Infof("Consumer started with %d workers", c.workers)
	return nil
}

// worker 工作协程
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.workerWg.Done()
	atomic.AddInt32(&c.activeWorkers, 1)
	defer atomic.AddInt32(&c.activeWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warnf("Worker %d: message channel closed", id)
				return
			}
			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage 处理单条消息，失败不重新入队
func (c *Consumer) processMessage(ctx context.Context, workerID int, delivery amqp.Delivery) {
	start := time.Now()

	msg, err := DecodeMessage(delivery.Body)
	if err != nil {
		c.logger.WithError(err).Error("Failed to decode render message")
		c.nack(delivery, "invalid")
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"job_id":    msg.JobID,
		"apk_name":  msg.APKName,
	})
	log.Info("Processing render request")

	if err := c.handle(ctx, msg); err != nil {
		log.WithError(err).Error("Render request failed")
		c.nack(delivery, "nack")
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
	}
	c.record("ack")
	log.WithField("duration", time.Since(start).Seconds()).Info("Render request completed")
}

func (c *Consumer) handle(ctx context.Context, msg *RenderMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) nack(delivery amqp.Delivery, result string) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.WithError(err).Error("Failed to reject message")
	}
	c.record(result)
}

func (c *Consumer) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordQueueMessage(result)
	}
}

// handleReconnect 连接断开后停止 worker，重连并重新消费
func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.mq.ReconnectChan():
			if !ok {
				return
			}

			c.logger.Warn("Connection lost, attempting to reconnect")
			c.stopWorkers()

			if err := c.mq.Reconnect(ctx); err != nil {
				c.logger.WithError(err).Errorf("Failed to reconnect to RabbitMQ, retrying in %s", c.reconnectDelay)
				c.retryLater(ctx)
				continue
			}
			if err := c.startWorkers(ctx); err != nil {
				c.logger.WithError(err).Errorf("Failed to restart consumer, retrying in %s", c.reconnectDelay)
				c.retryLater(ctx)
				continue
			}
			c.mq.StartConnectionWatcher()
		}
	}
}

// retryLater 等待 reconnectDelay 后重新发出重连信号
//
// 连接监视协程只发一次信号，失败路径必须自己重新排队。
func (c *Consumer) retryLater(ctx context.Context) {
	go func() {
		timer := time.NewTimer(c.reconnectDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			c.mq.triggerReconnect()
		}
	}()
}

// stopWorkers 停止所有 worker，最多等待 30 秒
func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for workers to stop")
	}
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...")
	c.stopWorkers()
	c.logger.Info("Consumer stopped")
}

// ActiveWorkers 活跃 worker 数量
func (c *Consumer) ActiveWorkers() int {
	return int(atomic.LoadInt32(&c.activeWorkers))
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
