package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// loadDotEnv reads root/.env. A missing file is not an error.
//
// The file is never exported to the process environment; only the keys known
// to config.ApplyEnv and LOG_LEVEL are used.
func loadDotEnv(root string) (map[string]string, error) {
	path := filepath.Join(root, ".env")
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from the root flag
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	env, err := parseDotEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return env, nil
}

// parseDotEnv parses KEY=VALUE lines.
//
// Blank lines and # comments are skipped and an "export " prefix is accepted,
// so the file can also be sourced by a shell. Double quoted values use Go
// escapes, single quoted values are literal and unquoted values end at " #".
// Errors are prefixed with the line number.
func parseDotEnv(data string) (map[string]string, error) {
	env := make(map[string]string)
	for i, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%d: expected KEY=VALUE, got %q", i+1, line)
		}
		key = strings.TrimSpace(key)
		if !validEnvKey(key) {
			return nil, fmt.Errorf("%d: invalid key %q", i+1, key)
		}
		val, err := envValue(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("%d: %s: %w", i+1, key, err)
		}
		env[key] = val
	}
	return env, nil
}

func envValue(val string) (string, error) {
	switch {
	case strings.HasPrefix(val, `"`):
		end := closingQuote(val)
		if end < 0 {
			return "", errors.New("unterminated double quote")
		}
		if rest := strings.TrimSpace(val[end+1:]); rest != "" && !strings.HasPrefix(rest, "#") {
			return "", fmt.Errorf("unexpected %q after quoted value", rest)
		}
		return strconv.Unquote(val[:end+1])
	case strings.HasPrefix(val, "'"):
		end := strings.IndexByte(val[1:], '\'')
		if end < 0 {
			return "", errors.New("unterminated single quote")
		}
		if rest := strings.TrimSpace(val[end+2:]); rest != "" && !strings.HasPrefix(rest, "#") {
			return "", fmt.Errorf("unexpected %q after quoted value", rest)
		}
		return val[1 : end+1], nil
	}
	if i := strings.Index(val, " #"); i >= 0 {
		val = strings.TrimSpace(val[:i])
	}
	return val, nil
}

// closingQuote returns the index of the double quote ending the value that
// starts at val[0], skipping escaped quotes.
func closingQuote(val string) int {
	for i := 1; i < len(val); i++ {
		switch val[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func validEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for i, c := range key {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
