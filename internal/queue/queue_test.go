package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

// fakeAck 记录 ack/nack 调用
type fakeAck struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

type fakeRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (f *fakeRecorder) RecordQueueMessage(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[result]++
}

type fakePublisher struct {
	failures int
	calls    int
	bodies   [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("channel closed")
	}
	f.bodies = append(f.bodies, body)
	return nil
}

// TestDecodeMessage 测试消息解码与校验
func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"job_id":"j1","apk_path":"/in/app.apk"}`))
	require.NoError(t, err)
	assert.Equal(t, "j1", msg.JobID)
	assert.Equal(t, "app.apk", msg.APKName)

	_, err = DecodeMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = DecodeMessage([]byte(`{"apk_path":"/in/app.apk"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = DecodeMessage([]byte(`{"job_id":"j1"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

// TestProducer_PublishRender 测试发布失败后重试
func TestProducer_PublishRender(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	p := NewProducer(pub, quietLogger())
	p.SetRetryConfig(&retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, Strategy: retry.StrategyFixed})

	err := p.PublishRender(context.Background(), &RenderMessage{JobID: "j1", APKPath: "/in/app.apk"})
	require.NoError(t, err)
	assert.Equal(t, 3, pub.calls)
	require.Len(t, pub.bodies, 1)

	msg, err := DecodeMessage(pub.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "j1", msg.JobID)
	assert.Equal(t, "app.apk", msg.APKName)
}

// TestProducer_PublishRenderInvalid 测试非法消息不发布
func TestProducer_PublishRenderInvalid(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, quietLogger())

	err := p.PublishRender(context.Background(), &RenderMessage{APKPath: "/in/app.apk"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Equal(t, 0, pub.calls)
}

// TestConsumer_ProcessMessage 测试消息确认逻辑
func TestConsumer_ProcessMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		handlerErr error
		panics     bool
		wantAck    int
		wantNack   int
		wantResult string
		wantCalled bool
	}{
		{name: "success", body: `{"job_id":"j1","apk_path":"/in/a.apk"}`, wantAck: 1, wantResult: "ack", wantCalled: true},
		{name: "handler error", body: `{"job_id":"j1","apk_path":"/in/a.apk"}`, handlerErr: errors.New("render failed"), wantNack: 1, wantResult: "nack", wantCalled: true},
		{name: "handler panic", body: `{"job_id":"j1","apk_path":"/in/a.apk"}`, panics: true, wantNack: 1, wantResult: "nack", wantCalled: true},
		{name: "invalid json", body: `{`, wantNack: 1, wantResult: "invalid"},
		{name: "missing path", body: `{"job_id":"j1"}`, wantNack: 1, wantResult: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := func(ctx context.Context, msg *RenderMessage) error {
				called = true
				if tt.panics {
					panic("boom")
				}
				return tt.handlerErr
			}
			rec := &fakeRecorder{results: make(map[string]int)}
			c := NewConsumer(nil, handler, 1, quietLogger())
			c.SetRecorder(rec)

			ack := &fakeAck{}
			c.processMessage(context.Background(), 0, amqp.Delivery{Acknowledger: ack, Body: []byte(tt.body)})

			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantAck, ack.acks)
			assert.Equal(t, tt.wantNack, ack.nacks)
			assert.False(t, ack.requeue)
			assert.Equal(t, 1, rec.results[tt.wantResult])
		})
	}
}

// TestConsumer_Worker 测试 worker 在通道关闭后退出
func TestConsumer_Worker(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, msg *RenderMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.JobID)
		return nil
	}
	c := NewConsumer(nil, handler, 1, quietLogger())

	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{Acknowledger: &fakeAck{}, Body: []byte(`{"job_id":"a","apk_path":"/a.apk"}`)}
	msgs <- amqp.Delivery{Acknowledger: &fakeAck{}, Body: []byte(`{"job_id":"b","apk_path":"/b.apk"}`)}
	close(msgs)

	c.workerWg.Add(1)
	c.worker(context.Background(), 0, msgs)

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 0, c.ActiveWorkers())
	assert.False(t, c.IsRunning())
}

// fakeBroker 前 failures 次 Reconnect 返回错误
type fakeBroker struct {
	mu         sync.Mutex
	failures   int
	reconnects int
	watchers   int
	signals    chan bool
	deliveries chan amqp.Delivery
}

func newFakeBroker(failures int) *fakeBroker {
	return &fakeBroker{
		failures:   failures,
		signals:    make(chan bool, 10),
		deliveries: make(chan amqp.Delivery),
	}
}

func (f *fakeBroker) Consume() (<-chan amqp.Delivery, error) { return f.deliveries, nil }

func (f *fakeBroker) StartConnectionWatcher() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers++
}

func (f *fakeBroker) ReconnectChan() <-chan bool { return f.signals }

func (f *fakeBroker) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnects <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBroker) triggerReconnect() {
	select {
	case f.signals <- true:
	default:
	}
}

func (f *fakeBroker) counts() (reconnects, watchers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects, f.watchers
}

// TestConsumer_ReconnectRetriesAfterFailure 重连失败后会再次尝试并恢复消费
func TestConsumer_ReconnectRetriesAfterFailure(t *testing.T) {
	mq := newFakeBroker(1)
	handler := func(ctx context.Context, msg *RenderMessage) error { return nil }
	c := NewConsumer(nil, handler, 1, quietLogger())
	c.mq = mq
	c.reconnectDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	_, watchers := mq.counts()
	require.Equal(t, 1, watchers)

	mq.triggerReconnect()

	require.Eventually(t, func() bool {
		reconnects, watchers := mq.counts()
		return reconnects == 2 && watchers == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsRunning())

	cancel()
	c.Stop()
}

// TestRabbitMQConfig_URL 测试连接地址
func TestRabbitMQConfig_URL(t *testing.T) {
	cfg := &RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "secret", VHost: "render"}
	assert.Equal(t, "amqp://guest:secret@mq:5672/render", cfg.URL())
}
