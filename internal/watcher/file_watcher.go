package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler 文件处理函数
type FileHandler func(ctx context.Context, filePath string) error

// Options 监控配置
type Options struct {
	Dir           string
	Pattern       string        // 文件匹配模式，如 "*.apk"
	Debounce      time.Duration // 防抖时间，默认 2 秒
	ReadyInterval time.Duration // 文件大小稳定检查间隔，默认 500ms
	ReadyAttempts int           // 默认 10 次
}

// FileWatcher 输入目录监控器，新 APK 写入完成后交给 handler
type FileWatcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	handler FileHandler
	logger  *logrus.Logger

	mu         sync.Mutex
	timers     map[string]*time.Timer
	processing map[string]bool
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewFileWatcher 创建文件监控器，目录不存在时创建
func NewFileWatcher(opts Options, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "*.apk"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = 500 * time.Millisecond
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = 10
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(opts.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": opts.Dir,
		"pattern":   opts.Pattern,
	}).Info("File watcher created")

	return &FileWatcher{
		watcher:    watcher,
		opts:       opts,
		handler:    handler,
		logger:     logger,
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start 启动事件循环。已存在的文件不会被处理
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.eventLoop(ctx)
	fw.logger.Info("File watcher started")
}

// eventLoop 事件循环
func (fw *FileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fw.matchPattern(filepath.Base(event.Name)) {
				continue
			}
			fw.schedule(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 同一文件在防抖时间内多次触发只处理一次
func (fw *FileWatcher) schedule(ctx context.Context, filePath string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, exists := fw.timers[filePath]; exists {
		timer.Stop()
	}
	fw.timers[filePath] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, filePath)
		fw.mu.Unlock()
		fw.handleFile(ctx, filePath)
	})
}

// handleFile 处理文件
func (fw *FileWatcher) handleFile(ctx context.Context, filePath string) {
	fw.mu.Lock()
	if fw.processing[filePath] {
		fw.mu.Unlock()
		fw.logger.WithField("file", filePath).Debug("File is already being processed")
		return
	}
	fw.processing[filePath] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.processing, filePath)
		fw.mu.Unlock()
	}()

	log := fw.logger.WithField("file", filePath)
	if err := fw.waitForFileReady(ctx, filePath); err != nil {
		log.WithError(err).Error("File not ready")
		return
	}

	if err := fw.handler(ctx, filePath); err != nil {
		log.WithError(err).Error("Failed to process file")
		return
	}
	log.Info("File handed off for rendering")
}

// waitForFileReady 等待文件大小稳定且非空
func (fw *FileWatcher) waitForFileReady(ctx context.Context, filePath string) error {
	var last int64 = -1
	for i := 0; i < fw.opts.ReadyAttempts; i++ {
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}
		if info.Size() > 0 && info.Size() == last {
			return nil
		}
		last = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fw.opts.ReadyInterval):
		}
	}
	return fmt.Errorf("file not ready after %d attempts", fw.opts.ReadyAttempts)
}

// matchPattern 文件名匹配，忽略大小写
func (fw *FileWatcher) matchPattern(fileName string) bool {
	ok, _ := filepath.Match(strings.ToLower(fw.opts.Pattern), strings.ToLower(fileName))
	return ok
}

// Stop 停止文件监控，可重复调用
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopChan)

		fw.mu.Lock()
		for name, timer := range fw.timers {
			timer.Stop()
			delete(fw.timers, name)
		}
		fw.mu.Unlock()

		err = fw.watcher.Close()
		fw.logger.Info("File watcher stopped")
	})
	return err
}

// Dir 监控目录
func (fw *FileWatcher) Dir() string {
	return fw.opts.Dir
}
