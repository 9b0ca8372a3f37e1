package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// buildInfo identifies the binary. It ends up in bug reports next to the
// firmware revision, so it carries the VCS stamp when the build had one.
type buildInfo struct {
	Version   string
	GoVersion string
	Revision  string
	Time      time.Time
	Modified  bool
}

func readBuildInfo() buildInfo {
	bi := buildInfo{Version: "dev", GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	bi.fill(info)
	return bi
}

func (b *buildInfo) fill(info *debug.BuildInfo) {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		b.Version = v
	}
	if info.GoVersion != "" {
		b.GoVersion = info.GoVersion
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				b.Time = t
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
}

// Short returns the abbreviated revision, suffixed with "+dirty" for builds
// from a modified tree.
func (b *buildInfo) Short() string {
	r := b.Revision
	if len(r) > 12 {
		r = r[:12]
	}
	if b.Modified && r != "" {
		r += "+dirty"
	}
	return r
}

// Format renders the -version output.
func (b *buildInfo) Format() string {
	var s strings.Builder
	fmt.Fprintf(&s, "assetstage %s (%s", b.Version, b.GoVersion)
	if r := b.Short(); r != "" {
		fmt.Fprintf(&s, ", %s", r)
	}
	if !b.Time.IsZero() {
		fmt.Fprintf(&s, ", %s", b.Time.UTC().Format(time.DateOnly))
	}
	s.WriteString(")\n")
	return s.String()
}
