// Package watch re-runs the staging sequence when front-end sources change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/assetstage/internal/config"
	"golang.org/x/time/rate"
)

// Watcher triggers runs on file changes.
type Watcher struct {
	paths    []string
	ignore   []string
	exclude  []string
	interval time.Duration
}

// New returns a Watcher over paths.
//
// Directories are watched recursively, skipping those whose base name is in
// ignore. Changes below any directory in exclude never trigger a run; it is
// used for the build output and the staging directory which a run rewrites.
func New(paths, ignore, exclude []string, interval time.Duration) *Watcher {
	return &Watcher{
		paths:    slices.Clone(paths),
		ignore:   slices.Clone(ignore),
		exclude:  slices.Clone(exclude),
		interval: interval,
	}
}

// Run calls fn once, then again after every batch of relevant changes, until
// ctx is canceled. Errors returned by fn are logged and do not stop the loop.
//
// Runs never overlap. Changes seen while fn runs cause one more run, and runs
// start at most once per interval.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	for _, p := range w.paths {
		if err := w.add(ctx, fw, p); err != nil {
			return err
		}
	}

	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}
	done := make(chan struct{})
	defer close(done)
	go w.events(ctx, fw, trigger, done)

	limiter := rate.NewLimiter(rate.Every(w.interval), 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
		}
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "Staging failed, waiting for changes", "err", err)
		} else {
			slog.InfoContext(ctx, "Waiting for changes")
		}
	}
}

func (w *Watcher) events(ctx context.Context, fw *fsnotify.Watcher, trigger chan<- struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.add(ctx, fw, event.Name); err != nil {
						slog.WarnContext(ctx, "Error watching directory", "path", event.Name, "err", err)
					}
				}
			}
			slog.DebugContext(ctx, "Change detected", "path", event.Name, "op", event.Op.String())
			select {
			case trigger <- struct{}{}:
			default:
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "Error watching files", "err", err)
		}
	}
}

// add watches path, recursively for directories. A path that does not exist
// is skipped.
func (w *Watcher) add(ctx context.Context, fw *fsnotify.Watcher, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.WarnContext(ctx, "Watch path does not exist", "path", path)
			return nil
		}
		return err
	}
	if !fi.IsDir() {
		return fw.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && (w.ignored(p) || w.excluded(p)) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// relevant reports whether event should trigger a run.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.excluded(event.Name) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(w.rel(event.Name)), "/") {
		if slices.Contains(w.ignore, part) {
			return false
		}
	}
	return true
}

// rel returns path relative to the watched root containing it, so that the
// directories above the project never match an ignored name. A path outside
// every root is reduced to its base name.
func (w *Watcher) rel(path string) string {
	for _, root := range w.paths {
		if !config.Within(root, path) {
			continue
		}
		if r, err := filepath.Rel(root, path); err == nil {
			return r
		}
	}
	return filepath.Base(path)
}

func (w *Watcher) ignored(path string) bool {
	return slices.Contains(w.ignore, filepath.Base(path))
}

func (w *Watcher) excluded(path string) bool {
	for _, e := range w.exclude {
		if config.Within(e, path) {
			return true
		}
	}
	return false
}
