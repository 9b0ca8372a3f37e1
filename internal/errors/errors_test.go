package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"testing"
)

func TestStageError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(ErrStagingFailed, "cannot reset")
		if err.Code() != ErrStagingFailed {
			t.Errorf("Expected code %s, got %s", ErrStagingFailed, err.Code())
		}
		if err.Error() != "cannot reset" {
			t.Errorf("Expected message 'cannot reset', got '%s'", err.Error())
		}
		if err.Details() == nil {
			t.Error("Expected Details() to return non-nil map")
		}
		if err.ExitCode() != 1 {
			t.Errorf("Expected exit code 1, got %d", err.ExitCode())
		}
	})
	t.Run("WithDetail", func(t *testing.T) {
		t.Run("adds single detail", func(t *testing.T) {
			err := New(ErrInvalidConfig, "bad").WithDetail("field", "staging_dir")
			if err.Details()["field"] != "staging_dir" {
				t.Errorf("Expected field 'staging_dir', got %v", err.Details()["field"])
			}
		})
		t.Run("initializes nil map", func(t *testing.T) {
			err := (&StageError{code: ErrInternal, message: "test"}).WithDetail("key", "value")
			if err.Details()["key"] != "value" {
				t.Error("Expected WithDetail to initialize nil map")
			}
		})
	})
	t.Run("Wrap", func(t *testing.T) {
		origErr := stderrors.New("permission denied")
		err := StagingFailed("failed to copy index.html.gz", origErr)
		if err.Unwrap() != origErr {
			t.Error("Expected Unwrap() to return the original error")
		}
		if got := err.Error(); got != "failed to copy index.html.gz: permission denied" {
			t.Errorf("Unexpected message %q", got)
		}
		if !stderrors.Is(err, origErr) {
			t.Error("Expected errors.Is to find the wrapped error")
		}
	})
}

func TestMissingAssets(t *testing.T) {
	names := []string{"main.js.gz", "favicon.ico.gz"}
	err := MissingAssets("data", names)
	names[0] = "mutated"
	if err.Code() != ErrMissingAssets {
		t.Errorf("Expected code %s, got %s", ErrMissingAssets, err.Code())
	}
	if got, want := err.Missing(), []string{"main.js.gz", "favicon.ico.gz"}; !slices.Equal(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}
	if got, want := err.Error(), "missing files in data: main.js.gz, favicon.ico.gz"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	err.Missing()[0] = "changed"
	if err.Missing()[0] != "main.js.gz" {
		t.Error("Missing() must return a copy")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("x"), ""},
		{"direct", InvalidConfig("x"), ErrInvalidConfig},
		{"wrapped", fmt.Errorf("run: %w", MissingAssets("data", []string{"a"})), ErrMissingAssets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildFailedExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	runErr := exec.CommandContext(context.Background(), "sh", "-c", "exit 3").Run()
	if runErr == nil {
		t.Fatal("expected command to fail")
	}
	err := BuildFailed("npm run build", runErr)
	if err.Code() != ErrBuildFailed {
		t.Errorf("Expected code %s, got %s", ErrBuildFailed, err.Code())
	}
	if got := err.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
	if err.Details()["command"] != "npm run build" {
		t.Errorf("Expected command detail, got %v", err.Details()["command"])
	}
	if got := BuildFailed("x", stderrors.New("exec: not found")).ExitCode(); got != 1 {
		t.Errorf("ExitCode() = %d, want 1", got)
	}
}
