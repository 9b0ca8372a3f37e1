// Package stager builds the web front-end and stages its compressed assets
// into the directory packed into the device filesystem image.
//
// A run is strictly sequential: build, reset the staging directory, copy the
// manifest entries that exist, then fail if any entry is missing. Missing
// files are reported one by one while copying and aggregated into a single
// error at the end.
package stager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/assetstage/internal/errors"
)

// DefaultManifest lists the files packed into the filesystem image, in copy
// order. The front-end build is configured to emit exactly these names.
var DefaultManifest = []string{
	"index.html.gz",
	"main.css.gz",
	"main.js.gz",
	"favicon.ico.gz",
}

// State is the position of a run in the staging state machine.
type State int

const (
	// StateIdle is the state before Stage is called.
	StateIdle State = iota
	// StateBuilding is set while the external build runs.
	StateBuilding
	// StateStaging is set while the staging directory is reset and filled.
	StateStaging
	// StateVerified is terminal: every manifest entry was staged.
	StateVerified
	// StateFailed is terminal: the build failed, the filesystem failed or
	// entries were missing.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuilding:
		return "BUILDING"
	case StateStaging:
		return "STAGING"
	case StateVerified:
		return "VERIFIED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes a finished run.
type Result struct {
	State         State
	Started       time.Time
	BuildDuration time.Duration
	StageDuration time.Duration
	// Staged lists the copied assets in manifest order.
	Staged []Asset
	// Missing lists the manifest entries absent from the staging directory
	// after the copy phase, in manifest order.
	Missing []string
}

// Option configures a Stager.
type Option func(*Stager)

// WithSkipBuild skips the external build; the source directory is expected
// to be populated already.
func WithSkipBuild() Option {
	return func(s *Stager) {
		s.skipBuild = true
	}
}

// WithClock sets the time source used for Result timings.
func WithClock(now func() time.Time) Option {
	return func(s *Stager) {
		s.now = now
	}
}

// Stager runs the staging sequence. It is not safe for concurrent use; a
// Stager owns its staging directory for the duration of Stage.
type Stager struct {
	builder    Builder
	sourceDir  string
	stagingDir string
	manifest   []string
	skipBuild  bool
	now        func() time.Time
	state      State
}

// New returns a Stager copying manifest from sourceDir into stagingDir after
// running builder.
func New(builder Builder, sourceDir, stagingDir string, manifest []string, opts ...Option) *Stager {
	s := &Stager{
		builder:    builder,
		sourceDir:  sourceDir,
		stagingDir: stagingDir,
		manifest:   append([]string(nil), manifest...),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Stager) State() State {
	return s.state
}

// Stage runs one complete invocation.
//
// The returned Result is never nil. On failure, the error is a
// *errors.StageError and Result.State is StateFailed.
func (s *Stager) Stage(ctx context.Context) (*Result, error) {
	res := &Result{Started: s.now()}
	fail := func(err error) (*Result, error) {
		s.state = StateFailed
		res.State = s.state
		return res, err
	}

	s.state = StateBuilding
	if s.skipBuild {
		slog.InfoContext(ctx, "Skipping front-end build", "source", s.sourceDir)
	} else {
		slog.InfoContext(ctx, "Building front-end", "command", describe(s.builder))
		if err := s.builder.Build(ctx); err != nil {
			res.BuildDuration = s.now().Sub(res.Started)
			if errors.CodeOf(err) == "" {
				err = errors.BuildFailed(describe(s.builder), err)
			}
			return fail(err)
		}
		res.BuildDuration = s.now().Sub(res.Started)
		slog.InfoContext(ctx, "Front-end built", "duration", res.BuildDuration.Round(time.Millisecond))
	}
	if err := ctx.Err(); err != nil {
		return fail(errors.New(errors.ErrInternal, "staging interrupted").Wrap(err))
	}

	s.state = StateStaging
	stageStart := s.now()
	if err := s.reset(ctx); err != nil {
		return fail(err)
	}
	staged, err := s.copyAssets(ctx)
	res.Staged = staged
	res.StageDuration = s.now().Sub(stageStart)
	if err != nil {
		return fail(err)
	}

	res.Missing = s.missing()
	if len(res.Missing) != 0 {
		slog.ErrorContext(ctx, "Missing files in staging directory", "dir", s.stagingDir, "files", res.Missing)
		return fail(errors.MissingAssets(s.stagingDir, res.Missing))
	}
	s.state = StateVerified
	res.State = s.state
	slog.InfoContext(ctx, "Assets staged", "dir", s.stagingDir, "files", len(res.Staged), "duration", res.StageDuration.Round(time.Millisecond))
	return res, nil
}

// reset deletes the staging directory and recreates it empty.
func (s *Stager) reset(ctx context.Context) error {
	if _, err := os.Lstat(s.stagingDir); err == nil {
		slog.InfoContext(ctx, "Removing old staging directory", "dir", s.stagingDir)
		if err := os.RemoveAll(s.stagingDir); err != nil {
			return errors.StagingFailed("failed to remove staging directory", err).WithDetail("dir", s.stagingDir)
		}
	} else if !os.IsNotExist(err) {
		return errors.StagingFailed("failed to stat staging directory", err).WithDetail("dir", s.stagingDir)
	}
	slog.InfoContext(ctx, "Creating staging directory", "dir", s.stagingDir)
	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil { //nolint:gosec // G301: packed into the image as-is
		return errors.StagingFailed("failed to create staging directory", err).WithDetail("dir", s.stagingDir)
	}
	return nil
}

// copyAssets copies every manifest entry found in the source directory.
//
// Absent entries are logged and skipped; the caller decides once all entries
// were tried.
func (s *Stager) copyAssets(ctx context.Context) ([]Asset, error) {
	var staged []Asset
	for _, name := range s.manifest {
		src := filepath.Join(s.sourceDir, name)
		fi, err := os.Stat(src)
		if err != nil || !fi.Mode().IsRegular() {
			slog.WarnContext(ctx, "File not found in source directory", "file", name, "dir", s.sourceDir)
			continue
		}
		a, err := copyAsset(src, filepath.Join(s.stagingDir, name))
		if err != nil {
			return staged, errors.StagingFailed(fmt.Sprintf("failed to copy %s", name), err).WithDetail("file", name)
		}
		a.inspect(ctx, filepath.Join(s.stagingDir, name))
		attrs := []any{"file", name, "size", humanize.Bytes(uint64(a.Size))} //nolint:gosec // G115: sizes are non-negative
		if a.RawSize > 0 {
			attrs = append(attrs, "raw", humanize.Bytes(uint64(a.RawSize))) //nolint:gosec // G115: sizes are non-negative
		}
		slog.InfoContext(ctx, "Copied file", attrs...)
		staged = append(staged, a)
	}
	return staged, nil
}

// missing returns the manifest entries absent from the staging directory.
func (s *Stager) missing() []string {
	var out []string
	for _, name := range s.manifest {
		if _, err := os.Stat(filepath.Join(s.stagingDir, name)); err != nil {
			out = append(out, name)
		}
	}
	return out
}

func describe(b Builder) string {
	if d, ok := b.(fmt.Stringer); ok {
		return d.String()
	}
	return fmt.Sprintf("%T", b)
}
