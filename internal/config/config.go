// Package config loads the hook configuration.
//
// The configuration is read from an optional YAML file in the project root,
// then overridden by .env values and command line flags. Relative paths are
// resolved against the project root before validation.
package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/assetstage/internal/errors"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the project root.
const FileName = "assetstage.yaml"

// Config holds the hook configuration.
type Config struct {
	// FrontendDir is the front-end project root, where BuildCommand runs.
	FrontendDir string `yaml:"frontend_dir,omitempty" jsonschema:"description=Front-end project root where the build command runs"`
	// BuildCommand is run through the platform shell.
	BuildCommand string `yaml:"build_command,omitempty" jsonschema:"description=Shell command building the front-end"`
	// SourceDir is the front-end build output. It is never modified.
	SourceDir string `yaml:"source_dir,omitempty" jsonschema:"description=Front-end build output directory (read-only)"`
	// StagingDir is consumed by the filesystem image packer. It is deleted
	// and recreated on every run.
	StagingDir string `yaml:"staging_dir,omitempty" jsonschema:"description=Directory packed into the filesystem image; reset on every run"`
	// Env is added to the build command environment.
	Env map[string]string `yaml:"env,omitempty" jsonschema:"description=Extra environment variables for the build command"`
	// Watch configures -watch mode.
	Watch Watch `yaml:"watch,omitempty" jsonschema:"description=Watch mode settings"`
}

// Watch configures the development watch loop.
type Watch struct {
	Paths    []string      `yaml:"paths,omitempty" jsonschema:"description=Files or directories watched recursively"`
	Ignore   []string      `yaml:"ignore,omitempty" jsonschema:"description=Directory base names skipped while watching"`
	Interval time.Duration `yaml:"interval,omitempty" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$,description=Minimum time between two runs as a Go duration (e.g. 1s or 500ms)"`
}

// Default returns the configuration matching the standard project layout.
func Default() *Config {
	return &Config{
		FrontendDir:  "frontend",
		BuildCommand: "npm run build",
		SourceDir:    filepath.Join("frontend", "dist"),
		StagingDir:   "data",
		Watch: Watch{
			Paths: []string{
				filepath.Join("frontend", "src"),
				filepath.Join("frontend", "index.html"),
				filepath.Join("frontend", "public"),
			},
			Ignore:   []string{"node_modules", "dist"},
			Interval: time.Second,
		},
	}
}

// Load reads the YAML configuration at path on top of Default().
//
// A missing file is not an error unless required is set; the defaults are
// returned instead.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the -config flag
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, errors.InvalidConfigWithError("failed to read "+filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()
	if err := cfg.decode(f); err != nil {
		return nil, errors.InvalidConfigWithError("failed to parse "+filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse parses a YAML configuration on top of Default().
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, errors.InvalidConfigWithError("failed to parse configuration", err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields with values loaded from a .env file.
//
// Empty values are ignored.
func (c *Config) ApplyEnv(env map[string]string) {
	for key, dst := range map[string]*string{
		"FRONTEND_DIR":  &c.FrontendDir,
		"BUILD_COMMAND": &c.BuildCommand,
		"SOURCE_DIR":    &c.SourceDir,
		"STAGING_DIR":   &c.StagingDir,
	} {
		if v := env[key]; v != "" {
			*dst = v
		}
	}
}

// Resolve returns a copy of the configuration with every path made absolute
// relative to root.
func (c *Config) Resolve(root string) (*Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.InvalidConfigWithError("failed to resolve project root", err)
	}
	abs := func(p string) string {
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(absRoot, p)
	}
	out := *c
	out.FrontendDir = abs(c.FrontendDir)
	out.SourceDir = abs(c.SourceDir)
	out.StagingDir = abs(c.StagingDir)
	out.Watch.Paths = make([]string, 0, len(c.Watch.Paths))
	for _, p := range c.Watch.Paths {
		out.Watch.Paths = append(out.Watch.Paths, abs(p))
	}
	out.Watch.Ignore = append([]string(nil), c.Watch.Ignore...)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return &out, nil
}

// Validate checks a resolved configuration.
//
// The staging directory is deleted on every run, so it must not contain the
// project root, the front-end sources or the build output.
func (c *Config) Validate(root string) error {
	if c.FrontendDir == "" {
		return errors.InvalidConfig("frontend_dir is required")
	}
	if strings.TrimSpace(c.BuildCommand) == "" {
		return errors.InvalidConfig("build_command is required")
	}
	if c.SourceDir == "" {
		return errors.InvalidConfig("source_dir is required")
	}
	if c.StagingDir == "" {
		return errors.InvalidConfig("staging_dir is required")
	}
	for _, p := range []string{c.FrontendDir, c.SourceDir, c.StagingDir} {
		if !filepath.IsAbs(p) {
			return errors.InvalidConfig(fmt.Sprintf("path %q is not resolved", p))
		}
	}
	if filepath.Dir(c.StagingDir) == c.StagingDir {
		return errors.InvalidConfig("staging_dir must not be a filesystem root").WithDetail("staging_dir", c.StagingDir)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errors.InvalidConfigWithError("failed to resolve project root", err)
	}
	for _, p := range []struct{ name, path string }{
		{"project root", absRoot},
		{"frontend_dir", c.FrontendDir},
		{"source_dir", c.SourceDir},
	} {
		if Within(c.StagingDir, p.path) {
			return errors.InvalidConfig(fmt.Sprintf("staging_dir %s contains %s %s", c.StagingDir, p.name, p.path)).WithDetail("staging_dir", c.StagingDir)
		}
	}
	if Within(c.SourceDir, c.StagingDir) {
		return errors.InvalidConfig(fmt.Sprintf("staging_dir %s is inside source_dir %s", c.StagingDir, c.SourceDir)).WithDetail("staging_dir", c.StagingDir)
	}
	if c.Watch.Interval < 0 {
		return errors.InvalidConfig("watch.interval must not be negative")
	}
	return nil
}

// Within reports whether path is parent itself or below it.
func Within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true, FieldNameTag: "yaml"}
	s := r.Reflect(&Config{})
	s.Title = FileName
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
