package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Handler 任务处理函数
type Handler func(ctx context.Context, task *Task) error

// Pool Worker 池
//
// 每个任务对应一个 APK 容器，任务之间没有共享状态。
type Pool struct {
	workers  int
	taskChan chan *Task
	handler  Handler
	logger   *logrus.Logger
	wg       sync.WaitGroup
	active   int32
	stopOnce sync.Once
}

// Task 任务
type Task struct {
	ID       string
	Index    int // 在批次中的位置
	APKPath  string
	resultCh chan error // 用于同步等待任务完成
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, handler Handler, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		handler:  handler,
		logger:   logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Debug("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"task_id":   task.ID,
				"apk_path":  task.APKPath,
			}).Debug("Processing task")

			atomic.AddInt32(&p.active, 1)
			err := p.handler(ctx, task)
			atomic.AddInt32(&p.active, -1)

			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"task_id":   task.ID,
				}).Warn("Task execution failed")
			}

			// 如果有结果通道，发送结果
			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 关闭任务通道并等待所有 worker 退出
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.taskChan)
	})
	p.wg.Wait()
}

// Workers worker 数量
func (p *Pool) Workers() int {
	return p.workers
}

// Active 正在执行任务的 worker 数量
func (p *Pool) Active() int {
	return int(atomic.LoadInt32(&p.active))
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
