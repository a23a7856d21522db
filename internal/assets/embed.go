// Package assets provides the launcher's embedded system defaults.
//
// Files are embedded at compile time so the CLI works regardless of the
// working directory or installation location. Operators can point
// paths.base_dir at an on-disk tree with the same layout to replace them.
package assets

import (
	"embed"
	"io/fs"
	"os"
	"strings"
)

//go:embed all:defaults
var embedded embed.FS

// Well-known paths inside the defaults tree.
const (
	RegistryFile          = "registry.yaml"
	WorkflowConfigFile    = "config/config.yaml"
	WorkflowProfileConfig = "assets/workflow_profile/config.yaml"
	CitationFile          = "CITATION.cff"
)

// Defaults returns the embedded defaults tree rooted at its top directory.
func Defaults() fs.FS {
	sub, err := fs.Sub(embedded, "defaults")
	if err != nil {
		// fs.Sub only fails on an invalid path literal.
		panic(err)
	}
	return sub
}

// Open returns the on-disk tree at baseDir, or the embedded defaults when
// baseDir is empty.
func Open(baseDir string) fs.FS {
	if strings.TrimSpace(baseDir) == "" {
		return Defaults()
	}
	return os.DirFS(baseDir)
}
