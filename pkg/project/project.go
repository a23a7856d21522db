// Package project initializes a working directory from the launcher's
// system default files.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "github.com/3leaps/snakerun/internal/errors"
)

// DefaultPatterns are copied by `snakerun init`.
var DefaultPatterns = []string{"config/**", "assets/**"}

// DefaultDirs are created empty by `snakerun init`.
var DefaultDirs = []string{"log"}

// Options controls Init.
type Options struct {
	// Patterns are doublestar globs relative to the source root. A pattern
	// naming a directory copies the whole directory.
	Patterns []string

	// Dirs are created under Dest if missing.
	Dirs []string

	// Dest is the target directory; empty means the current directory.
	Dest string

	// Overwrite replaces files that already exist in Dest.
	Overwrite bool
}

// Report lists what Init did.
type Report struct {
	Copied  []string
	Skipped []string
	Created []string
}

// Init copies files matched by opts.Patterns from src into opts.Dest. A
// pattern that matches nothing is a ConfigSourceMissing error.
func Init(src fs.FS, opts Options) (*Report, error) {
	dest := opts.Dest
	if dest == "" {
		dest = "."
	}
	report := &Report{}

	for _, pattern := range opts.Patterns {
		matches, err := expand(src, pattern)
		if err != nil {
			return report, err
		}
		for _, m := range matches {
			copied, err := copyEntry(src, m, dest, opts.Overwrite)
			if err != nil {
				return report, err
			}
			switch {
			case copied == nil:
			case *copied:
				report.Copied = append(report.Copied, m)
			default:
				report.Skipped = append(report.Skipped, m)
			}
		}
	}

	for _, d := range opts.Dirs {
		target := filepath.Join(dest, filepath.FromSlash(d))
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return report, fmt.Errorf("create %s: %w", target, err)
		}
		report.Created = append(report.Created, d)
	}

	return report, nil
}

func expand(src fs.FS, pattern string) ([]string, error) {
	pattern = strings.TrimSuffix(path.Clean(filepath.ToSlash(pattern)), "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	// A plain directory name means the directory and everything below it.
	if info, err := fs.Stat(src, pattern); err == nil && info.IsDir() {
		pattern = pattern + "/**"
	}

	matches, err := doublestar.Glob(src, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, apperrors.NewSourceMissing(pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// copyEntry returns nil for directories, true for copied files and false
// for files left untouched.
func copyEntry(src fs.FS, name, dest string, overwrite bool) (*bool, error) {
	info, err := fs.Stat(src, name)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))

	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		return nil, nil
	}

	copied := false
	if _, err := os.Stat(target); err == nil {
		if !overwrite {
			return &copied, nil
		}
		// A read-only copy left by an older init must not block the rewrite.
		if err := os.Remove(target); err != nil {
			return nil, fmt.Errorf("replace %s: %w", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", target, err)
	}

	data, err := fs.ReadFile(src, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, data, copyMode(name, info.Mode())); err != nil {
		return nil, fmt.Errorf("write %s: %w", target, err)
	}
	copied = true
	return &copied, nil
}

// copyMode returns the mode for a copied file. Copies are always
// owner-writable since embedded sources report 0444; scripts and files
// that were executable in the source stay executable.
func copyMode(name string, src fs.FileMode) fs.FileMode {
	if src.Perm()&0111 != 0 || path.Ext(name) == ".sh" {
		return 0755
	}
	return 0644
}
