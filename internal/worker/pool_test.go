package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestPool_ProcessesAllTasks 测试所有任务都被处理
func TestPool_ProcessesAllTasks(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)

	pool := NewPool(4, 20, func(ctx context.Context, task *Task) error {
		mu.Lock()
		seen[task.Index] = true
		mu.Unlock()
		return nil
	}, quietLogger())
	pool.Start(context.Background())

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(&Task{ID: "t", Index: i}))
	}
	pool.Stop()

	assert.Len(t, seen, 20)
	assert.Equal(t, 4, pool.Workers())
	assert.Equal(t, 0, pool.Active())
}

// TestPool_SingleWorkerKeepsOrder 单 worker 时按提交顺序处理
func TestPool_SingleWorkerKeepsOrder(t *testing.T) {
	var order []int
	pool := NewPool(1, 10, func(ctx context.Context, task *Task) error {
		order = append(order, task.Index)
		return nil
	}, quietLogger())
	pool.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(&Task{Index: i}))
	}
	pool.Stop()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

// TestPool_SubmitAndWait 测试同步等待返回处理结果
func TestPool_SubmitAndWait(t *testing.T) {
	wantErr := errors.New("boom")
	pool := NewPool(1, 1, func(ctx context.Context, task *Task) error {
		if task.ID == "bad" {
			return wantErr
		}
		return nil
	}, quietLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	assert.NoError(t, pool.SubmitAndWait(context.Background(), &Task{ID: "ok"}))
	assert.ErrorIs(t, pool.SubmitAndWait(context.Background(), &Task{ID: "bad"}), wantErr)
}

// TestPool_QueueFull 队列已满时 Submit 返回错误
func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 1, func(ctx context.Context, task *Task) error { return nil }, quietLogger())
	// 未启动 worker，队列只能放 1 个任务
	require.NoError(t, pool.Submit(&Task{ID: "a"}))
	assert.Error(t, pool.Submit(&Task{ID: "b"}))
	assert.Equal(t, 1, pool.GetQueueSize())
}

// TestPool_ContextCancel 上下文取消后 worker 退出
func TestPool_ContextCancel(t *testing.T) {
	var processed int32
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, 10, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, quietLogger())

	cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after context cancel")
	}
}
