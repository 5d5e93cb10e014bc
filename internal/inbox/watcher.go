package inbox

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/simonraj1/pdf/constants"
)

type WatchConfig struct {
	Root        string
	InitialScan bool          // emit PDFs already present under Root
	Debounce    time.Duration // coalesce create/write bursts per file
}

// Watch emits the paths of PDFs created or rewritten under cfg.Root,
// including subdirectories created later. Both channels close when ctx ends.
func Watch(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		return nil, nil, errors.New("no inbox directory provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("inbox.watcher.create_failed", "error", err)
		return nil, nil, err
	}

	var initial []string
	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != cfg.Root && isHidden(path) {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		if cfg.InitialScan && wanted(path) {
			initial = append(initial, path)
		}
		return nil
	})
	if err != nil {
		logger.Error("inbox.watcher.add_root_failed", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	evCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("inbox.watcher.close_failed", "error", err)
			}
		}()

		send := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !send(p) {
				return
			}
		}

		var (
			pending = map[string]struct{}{}
			timer   *time.Timer
			fire    <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) && !isHidden(e.Name) {
					// new subdirectory; files fail Add and are handled below
					_ = w.Add(e.Name)
				}
				if !wanted(e.Name) || !(e.Op.Has(fsnotify.Create) || e.Op.Has(fsnotify.Write)) {
					continue
				}
				pending[e.Name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				for p := range pending {
					delete(pending, p)
					if !send(p) {
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("inbox.watcher.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func wanted(path string) bool {
	return constants.IsAllowedExt(filepath.Ext(path)) && !isHidden(path)
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
