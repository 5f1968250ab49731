package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce 合并编辑器保存时产生的连续事件。
var watchDebounce = 300 * time.Millisecond

// Watch 监听 path 所在目录，文件变更后重新 Load 并将成功解析的配置交给 onChange。
// 解析失败只记录日志，保留旧配置。ctx 结束时停止监听。
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// 监听目录而非文件：原子替换（rename）会使文件级监听失效。
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		reload := func() {
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload rejected", slog.String("path", abs), slog.Any("err", err))
				return
			}
			logger.Info("config reloaded", slog.String("path", abs))
			onChange(cfg)
		}
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", slog.Any("err", err))
			}
		}
	}()
	return nil
}
