package stager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Asset describes a file copied into the staging directory.
type Asset struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	// RawSize is the decompressed size of a .gz asset, 0 when unknown.
	RawSize int64 `json:"raw_size,omitempty"`
}

// copyAsset copies src to dst and hashes the content on the way.
func copyAsset(src, dst string) (Asset, error) {
	a := Asset{Name: filepath.Base(dst)}
	in, err := os.Open(src) //nolint:gosec // G304: manifest entry inside the source directory
	if err != nil {
		return a, err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G302: packed into the image as-is
	if err != nil {
		return a, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err2 := out.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return a, fmt.Errorf("copy %s: %w", a.Name, err)
	}
	a.Size = n
	a.SHA256 = hex.EncodeToString(h.Sum(nil))
	return a, nil
}

// inspect fills RawSize for gzip assets. A stream that does not decode is
// logged; the device serves the bytes as-is so it is not a staging failure.
func (a *Asset) inspect(ctx context.Context, path string) {
	if !strings.HasSuffix(a.Name, ".gz") {
		return
	}
	n, err := gzipSize(path)
	if err != nil {
		slog.WarnContext(ctx, "File is not a valid gzip stream", "file", a.Name, "err", err)
		return
	}
	a.RawSize = n
}

func gzipSize(path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: staged file
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer func() { _ = zr.Close() }()
	return io.Copy(io.Discard, zr)
}
