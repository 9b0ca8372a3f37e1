// Package main is the entry point for assetstage.
//
// assetstage is run by the firmware build as a pre-action of the filesystem
// image target. It builds the web front-end, copies the compressed assets into
// the directory packed into the image and exits non-zero when any is missing,
// which aborts the firmware build. Configuration is read from CLI flags, a
// .env file and assetstage.yaml in the project root.
//
// With PlatformIO, register it from an extra script referenced by
// extra_scripts = pre:extra_script.py in platformio.ini, so it runs before
// buildfs packs the data directory into littlefs.bin:
//
//	Import("env")
//
//	def stage_assets(source, target, env):
//	    if env.Execute("assetstage -root $PROJECT_DIR"):
//	        env.Exit(1)
//
//	env.AddPreAction("$BUILD_DIR/littlefs.bin", stage_assets)
//
// A non-zero exit status makes the pre-action fail, so no image is built from
// an incomplete data directory. The SPIFFS target is $BUILD_DIR/spiffs.bin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/assetstage/internal/config"
	stageerrors "github.com/maruel/assetstage/internal/errors"
	"github.com/maruel/assetstage/internal/report"
	"github.com/maruel/assetstage/internal/stager"
	"github.com/maruel/assetstage/internal/watch"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := mainImpl(ctx, args, stdout, stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	}
	_, _ = fmt.Fprintf(stderr, "assetstage: %v\n", err)
	return exitCode(err)
}

// errUsage reports a command line the flag set rejected. The flag package has
// already printed the reason and the usage.
var errUsage = errors.New("invalid usage")

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	var se *stageerrors.StageError
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}

func mainImpl(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("assetstage", flag.ContinueOnError)
	fs.SetOutput(stderr)
	version := fs.Bool("version", false, "Print version and exit")
	schema := fs.Bool("schema", false, "Print the JSON schema of "+config.FileName+" and exit")
	root := fs.String("root", ".", "Project root; relative paths are resolved against it")
	configPath := fs.String("config", "", "Configuration file (default: <root>/"+config.FileName+" if present)")
	frontendDir := fs.String("frontend-dir", "", "Front-end project root where the build command runs")
	buildCommand := fs.String("build-command", "", "Shell command building the front-end")
	sourceDir := fs.String("source-dir", "", "Front-end build output directory")
	stagingDir := fs.String("staging-dir", "", "Directory packed into the filesystem image; reset on every run")
	skipBuild := fs.Bool("skip-build", false, "Do not run the build command; stage the existing build output")
	reportPath := fs.String("report", "", "Write a JSON report of the run to this path")
	watchMode := fs.Bool("watch", false, "Keep running and stage again when front-end sources change")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}

	bi := readBuildInfo()
	if *version {
		_, err := fmt.Fprint(stdout, bi.Format())
		return err
	}
	if *schema {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(stderr, ll))

	env, err := loadDotEnv(*root)
	if err != nil {
		return stageerrors.InvalidConfigWithError("failed to load .env", err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if !set["log-level"] {
		if v := env["LOG_LEVEL"]; v != "" {
			*logLevel = v
		}
	}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return stageerrors.InvalidConfig(fmt.Sprintf("unknown log level: %q", *logLevel))
	}
	slog.DebugContext(ctx, "assetstage", "version", bi.Version, "revision", bi.Short(), "modified", bi.Modified)

	path := *configPath
	if path == "" {
		path = filepath.Join(*root, config.FileName)
	}
	cfg, err := config.Load(path, set["config"])
	if err != nil {
		return err
	}
	cfg.ApplyEnv(env)
	for _, o := range []struct {
		name     string
		val, dst *string
	}{
		{"frontend-dir", frontendDir, &cfg.FrontendDir},
		{"build-command", buildCommand, &cfg.BuildCommand},
		{"source-dir", sourceDir, &cfg.SourceDir},
		{"staging-dir", stagingDir, &cfg.StagingDir},
	} {
		if set[o.name] {
			*o.dst = *o.val
		}
	}
	if cfg, err = cfg.Resolve(*root); err != nil {
		return err
	}
	if err := cfg.Validate(*root); err != nil {
		return err
	}
	if *reportPath != "" {
		p := *reportPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(*root, p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return stageerrors.InvalidConfigWithError("failed to resolve report path", err)
		}
		if config.Within(cfg.StagingDir, abs) {
			return stageerrors.InvalidConfig(fmt.Sprintf("report %s must not be inside staging_dir %s", abs, cfg.StagingDir))
		}
		*reportPath = abs
	}

	var opts []stager.Option
	if *skipBuild {
		opts = append(opts, stager.WithSkipBuild())
	}
	builder := &stager.ShellBuilder{Dir: cfg.FrontendDir, Command: cfg.BuildCommand, Env: cfg.Env, Stdout: stdout, Stderr: stderr}
	st := stager.New(builder, cfg.SourceDir, cfg.StagingDir, stager.DefaultManifest, opts...)
	stage := func(ctx context.Context) error {
		res, err := st.Stage(ctx)
		if *reportPath != "" {
			writeReport(ctx, *reportPath, *root, cfg, res, err)
		}
		return err
	}

	if !*watchMode {
		// An interrupted one-shot run is a failure: the firmware build must
		// not go on with a half-built staging directory.
		return stage(ctx)
	}
	w := watch.New(cfg.Watch.Paths, cfg.Watch.Ignore, []string{cfg.SourceDir, cfg.StagingDir}, cfg.Watch.Interval)
	slog.InfoContext(ctx, "Watching front-end sources", "paths", cfg.Watch.Paths, "interval", cfg.Watch.Interval)
	if err := w.Run(ctx, stage); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// writeReport records a run. Failing to write the report is logged and does
// not change the outcome of the run.
func writeReport(ctx context.Context, path, root string, cfg *config.Config, res *stager.Result, runErr error) {
	r := report.New(cfg.SourceDir, cfg.StagingDir, res, runErr)
	if err := r.AddGitInfo(root); err != nil {
		slog.WarnContext(ctx, "Failed to read git revision", "err", err)
	}
	if err := r.Write(path); err != nil {
		slog.WarnContext(ctx, "Failed to write report", "path", path, "err", err)
		return
	}
	slog.DebugContext(ctx, "Report written", "path", path, "id", r.ID)
}

// newLogger returns a console logger writing to w. Colors are only enabled
// when w is a terminal, which is rarely the case inside a firmware build.
func newLogger(w io.Writer, ll *slog.LevelVar) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if skipAttr(a.Value.Any()) {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// skipAttr reports whether a log attribute carries no information.
func skipAttr(val any) bool {
	switch t := val.(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case uint64:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	case time.Duration:
		return t == 0
	case nil:
		return true
	}
	return false
}
