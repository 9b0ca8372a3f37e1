package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/maruel/assetstage/internal/errors"
	"github.com/maruel/assetstage/internal/stager"
)

func TestNew(t *testing.T) {
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	t.Run("verified", func(t *testing.T) {
		res := &stager.Result{
			State:         stager.StateVerified,
			Started:       started,
			BuildDuration: 2 * time.Second,
			Staged:        []stager.Asset{{Name: "index.html.gz", Size: 10, SHA256: "ab"}},
		}
		r := New("/p/frontend/dist", "/p/data", res, nil)
		if r.ID == "" {
			t.Error("ID is empty")
		}
		if r.State != "VERIFIED" {
			t.Errorf("State = %q", r.State)
		}
		if r.ErrorCode != "" || r.Error != "" {
			t.Errorf("unexpected error fields %q %q", r.ErrorCode, r.Error)
		}
		if r.BuildDuration != "2s" {
			t.Errorf("BuildDuration = %q", r.BuildDuration)
		}
		if !r.Started.Equal(started) {
			t.Errorf("Started = %v", r.Started)
		}
	})
	t.Run("missing", func(t *testing.T) {
		missing := []string{"favicon.ico.gz"}
		res := &stager.Result{State: stager.StateFailed, Started: started, Missing: missing}
		r := New("src", "data", res, errors.MissingAssets("data", missing))
		if r.ErrorCode != string(errors.ErrMissingAssets) {
			t.Errorf("ErrorCode = %q", r.ErrorCode)
		}
		if !slices.Equal(r.Missing, missing) {
			t.Errorf("Missing = %v", r.Missing)
		}
		if r.Assets == nil {
			t.Error("Assets must serialize as an empty list")
		}
	})
	t.Run("unique ids", func(t *testing.T) {
		res := &stager.Result{Started: started}
		if a, b := New("", "", res, nil).ID, New("", "", res, nil).ID; a == b {
			t.Errorf("IDs are equal: %q", a)
		}
	})
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "assetstage.json")
	res := &stager.Result{
		State:   stager.StateVerified,
		Started: time.Now(),
		Staged:  []stager.Asset{{Name: "main.js.gz", Size: 3, SHA256: "cd", RawSize: 9}},
	}
	if err := New("src", "data", res, nil).Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Assets) != 1 || got.Assets[0] != res.Staged[0] {
		t.Errorf("Assets = %+v", got.Assets)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestAddGitInfo(t *testing.T) {
	t.Run("repository", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := gogit.PlainInit(dir, false)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "platformio.ini"), []byte("[env]\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		w, err := repo.Worktree()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Add("platformio.ini"); err != nil {
			t.Fatal(err)
		}
		hash, err := w.Commit("init", &gogit.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatal(err)
		}
		sub := filepath.Join(dir, "frontend")
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatal(err)
		}

		r := &Report{}
		if err := r.AddGitInfo(sub); err != nil {
			t.Fatalf("AddGitInfo: %v", err)
		}
		if r.Revision != hash.String() {
			t.Errorf("Revision = %q, want %q", r.Revision, hash)
		}
		if r.Dirty {
			t.Error("clean worktree reported dirty")
		}

		if err := os.WriteFile(filepath.Join(dir, "platformio.ini"), []byte("[env:esp32]\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		r = &Report{}
		if err := r.AddGitInfo(dir); err != nil {
			t.Fatalf("AddGitInfo: %v", err)
		}
		if !r.Dirty {
			t.Error("modified worktree reported clean")
		}
	})
	t.Run("not a repository", func(t *testing.T) {
		r := &Report{}
		if err := r.AddGitInfo(t.TempDir()); err != nil {
			t.Fatalf("AddGitInfo: %v", err)
		}
		if r.Revision != "" {
			t.Errorf("Revision = %q", r.Revision)
		}
	})
}
