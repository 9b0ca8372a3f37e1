// Package report records the outcome of a staging run as JSON.
//
// The report is written next to the firmware build outputs, never inside the
// staging directory, so the filesystem image only contains manifest files.
package report

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/maruel/assetstage/internal/errors"
	"github.com/maruel/assetstage/internal/stager"
	"github.com/maruel/ksid"
)

// Report is the serialized outcome of one run.
type Report struct {
	ID            string         `json:"id"`
	Started       time.Time      `json:"started"`
	State         string         `json:"state"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	Revision      string         `json:"revision,omitempty"`
	Dirty         bool           `json:"dirty,omitempty"`
	SourceDir     string         `json:"source_dir"`
	StagingDir    string         `json:"staging_dir"`
	BuildDuration string         `json:"build_duration"`
	StageDuration string         `json:"stage_duration"`
	Assets        []stager.Asset `json:"assets"`
	Missing       []string       `json:"missing,omitempty"`
}

// New builds a report from a run result and its error.
func New(sourceDir, stagingDir string, res *stager.Result, err error) *Report {
	r := &Report{
		ID:            ksid.NewID().String(),
		Started:       res.Started.UTC(),
		State:         res.State.String(),
		SourceDir:     sourceDir,
		StagingDir:    stagingDir,
		BuildDuration: res.BuildDuration.String(),
		StageDuration: res.StageDuration.String(),
		Assets:        res.Staged,
		Missing:       res.Missing,
	}
	if r.Assets == nil {
		r.Assets = []stager.Asset{}
	}
	if err != nil {
		r.ErrorCode = string(errors.CodeOf(err))
		r.Error = err.Error()
	}
	return r
}

// AddGitInfo records the revision of the repository containing dir.
//
// It is best effort: a directory outside any repository leaves the fields
// empty.
func (r *Report) AddGitInfo(dir string) error {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if stderrors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil
		}
		return fmt.Errorf("failed to open git repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	r.Revision = head.Hash().String()
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	r.Dirty = !status.IsClean()
	return nil
}

// Write writes the report to path, replacing any previous report atomically.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: build output directory
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // G306: build artifact
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
