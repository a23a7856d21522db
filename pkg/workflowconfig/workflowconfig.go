// Package workflowconfig builds the YAML config file handed to Snakemake
// with --configfile.
//
// A runtime config is the system default config, overlaid with an optional
// user config file, overlaid with key=value assignments from the command
// line. Layers are combined with merge.Merge.
package workflowconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/merge"
)

// Read parses a YAML config file. A missing file is a ConfigSourceMissing
// error; an empty file is an empty config.
func Read(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewSourceMissing(path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, path)
}

// ReadFS is Read over an fs.FS. A missing file yields (nil, nil) so system
// defaults stay optional.
func ReadFS(fsys fs.FS, path string) (map[string]any, error) {
	if fsys == nil || path == "" {
		return nil, nil
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read default config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes YAML bytes into a mapping. name is used in errors only.
func Parse(data []byte, name string) (map[string]any, error) {
	cfg := map[string]any{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	return cfg, nil
}

// Write serializes cfg to path, creating parent directories.
func Write(cfg map[string]any, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ParseAssignments turns "a.b=value" strings into a nested mapping. Values
// are decoded as YAML scalars, so "threads=4" yields an int and
// "dry=true" a bool. Later assignments win.
func ParseAssignments(assignments []string) (map[string]any, error) {
	out := map[string]any{}
	for _, a := range assignments {
		key, raw, found := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected key=value", a)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		parts := strings.Split(key, ".")
		for _, p := range parts {
			if p == "" {
				return nil, fmt.Errorf("invalid assignment %q: empty key segment", a)
			}
		}
		nested := map[string]any{parts[len(parts)-1]: value}
		for i := len(parts) - 2; i >= 0; i-- {
			nested = map[string]any{parts[i]: nested}
		}
		out = merge.Merge(out, nested)
	}
	return out, nil
}

// Layers are the inputs of a runtime config.
type Layers struct {
	// Defaults is the system default config, possibly nil.
	Defaults map[string]any

	// UserFile is an optional config file path supplied by the invoker.
	UserFile string

	// Assignments are key=value overrides.
	Assignments []string
}

// Build merges the layers into one effective config.
func Build(l Layers) (map[string]any, error) {
	var user map[string]any
	if l.UserFile != "" {
		var err error
		user, err = Read(l.UserFile)
		if err != nil {
			return nil, err
		}
	}
	sets, err := ParseAssignments(l.Assignments)
	if err != nil {
		return nil, err
	}
	return merge.All(l.Defaults, user, sets), nil
}
