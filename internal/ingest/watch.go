package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"statusdrift/internal/logging"
)

// DefaultSettle is how long a file must stay quiet before it is imported.
const DefaultSettle = 2 * time.Second

type ImportFunc func(ctx context.Context, path string) error

type WatchOptions struct {
	Settle   time.Duration
	Existing bool
	Logger   *logrus.Entry
}

// Watch imports snapshot files as they appear in dir, one at a time, until
// ctx is cancelled. A file is imported once it has been quiet for the settle
// period; content that was already imported successfully is skipped. A
// failed import is logged and retried on the file's next write.
func Watch(ctx context.Context, dir string, opts WatchOptions, fn ImportFunc) error {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	queue := make(chan string, 64)
	if opts.Existing {
		files, err := SnapshotFiles(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			select {
			case queue <- path:
			default:
				log.WithField(logging.FieldSource, path).Warn("backlog full, skipping existing file")
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		imported := make(map[string]struct{})
		for {
			select {
			case <-gctx.Done():
				return nil
			case path := <-queue:
				importOnce(gctx, path, imported, log, fn)
			}
		}
	})
	g.Go(func() error {
		ready := make(chan string)
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if !IsSnapshotFile(ev.Name) {
					continue
				}
				if t, ok := timers[ev.Name]; ok {
					t.Reset(opts.Settle)
					continue
				}
				name := ev.Name
				timers[name] = time.AfterFunc(opts.Settle, func() {
					select {
					case ready <- name:
					case <-gctx.Done():
					}
				})
			case name := <-ready:
				delete(timers, name)
				select {
				case queue <- name:
				case <-gctx.Done():
					return nil
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.WithError(err).Warn("watcher error")
			}
		}
	})
	return g.Wait()
}

func importOnce(ctx context.Context, path string, imported map[string]struct{}, log *logrus.Entry, fn ImportFunc) {
	log = log.WithField(logging.FieldSource, path)
	hash, err := FileHash(path)
	if err != nil {
		log.WithError(err).Warn("reading snapshot")
		return
	}
	if _, ok := imported[hash]; ok {
		log.Debug("content already imported, skipping")
		return
	}
	if err := fn(ctx, path); err != nil {
		log.WithError(err).Error("import failed")
		return
	}
	imported[hash] = struct{}{}
}
