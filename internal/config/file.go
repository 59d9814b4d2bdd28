package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// fileBackend keeps settings as one flat JSON object keyed by dotted config
// key. Entries stay raw until read, so a malformed value only affects its
// own key.
type fileBackend struct {
	path   string
	values map[string]json.RawMessage
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(Path())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: make(map[string]json.RawMessage)}
	if err := b.read(); err != nil {
		slog.Warn("ignoring unreadable config file", "path", path, "error", err)
	}
	return b
}

// Path returns the config file location: $XDG_CONFIG_HOME/ragdesk/config.json,
// falling back to ~/.config when XDG_CONFIG_HOME is unset.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "ragdesk", "config.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ragdesk", "config.json")
}

func (b *fileBackend) read() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parsing %s: %w", b.path, err)
	}
	b.values = values
	return nil
}

// write replaces the file atomically through a temp file in the same directory.
func (b *fileBackend) write() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}

// value decodes the entry for key. Numbers come back as json.Number.
func (b *fileBackend) value(key string) (any, bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, true, fmt.Errorf("decoding %s: %w", key, err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// GetString returns scalars in their text form and arrays joined with commas,
// the shape list keys use in environment variables.
func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok, err := b.value(key)
	if !ok || err != nil {
		return "", ok, err
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), true, nil
	case map[string]any:
		return "", true, fmt.Errorf("%s: expected a scalar or list, got an object", key)
	default:
		return fmt.Sprint(val), true, nil
	}
}

// GetInt accepts whole JSON numbers and numeric strings.
func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.value(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	var text string
	switch val := v.(type) {
	case json.Number:
		text = val.String()
	case string:
		text = strings.TrimSpace(val)
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not a whole number", key, text)
	}
	return i, true, nil
}

func (b *fileBackend) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	b.values[key] = raw
	return b.write()
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.write()
}
