package project

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snakerun/internal/assets"
	apperrors "github.com/3leaps/snakerun/internal/errors"
)

func sourceTree() fstest.MapFS {
	return fstest.MapFS{
		"config/config.yaml":             &fstest.MapFile{Data: []byte("outdir: results\n"), Mode: 0644},
		"config/resources/cluster.yaml":  &fstest.MapFile{Data: []byte("mem: 1g\n"), Mode: 0644},
		"assets/slurm_header_biowulf.sh": &fstest.MapFile{Data: []byte("#!/bin/bash\n"), Mode: 0755},
		"registry.yaml":                  &fstest.MapFile{Data: []byte("{}\n"), Mode: 0644},
	}
}

func TestInit(t *testing.T) {
	dest := t.TempDir()

	report, err := Init(sourceTree(), Options{
		Patterns: DefaultPatterns,
		Dirs:     DefaultDirs,
		Dest:     dest,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"config/config.yaml",
		"config/resources/cluster.yaml",
		"assets/slurm_header_biowulf.sh",
	}, report.Copied)
	assert.Equal(t, []string{"log"}, report.Created)

	data, err := os.ReadFile(filepath.Join(dest, "config", "resources", "cluster.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mem: 1g\n", string(data))

	info, err := os.Stat(filepath.Join(dest, "log"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(dest, "registry.yaml"))
	assert.True(t, os.IsNotExist(err), "unmatched files are not copied")
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "config"), 0755))
	edited := filepath.Join(dest, "config", "config.yaml")
	require.NoError(t, os.WriteFile(edited, []byte("outdir: edited\n"), 0644))

	report, err := Init(sourceTree(), Options{Patterns: []string{"config"}, Dest: dest})
	require.NoError(t, err)
	assert.Equal(t, []string{"config/config.yaml"}, report.Skipped)

	data, err := os.ReadFile(edited)
	require.NoError(t, err)
	assert.Equal(t, "outdir: edited\n", string(data))

	report, err = Init(sourceTree(), Options{Patterns: []string{"config/config.yaml"}, Dest: dest, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"config/config.yaml"}, report.Copied)

	data, err = os.ReadFile(edited)
	require.NoError(t, err)
	assert.Equal(t, "outdir: results\n", string(data))
}

func TestInitMissingSource(t *testing.T) {
	_, err := Init(sourceTree(), Options{Patterns: []string{"nextflow.config"}, Dest: t.TempDir()})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigSourceMissing(err))
	assert.Contains(t, err.Error(), "nextflow.config")

	_, err = Init(sourceTree(), Options{Patterns: []string{"config/[unclosed"}, Dest: t.TempDir()})
	assert.ErrorContains(t, err, "invalid pattern")
}

func TestInitEmbeddedDefaultsAreWritable(t *testing.T) {
	dest := t.TempDir()
	opts := Options{Patterns: DefaultPatterns, Dirs: DefaultDirs, Dest: dest, Overwrite: true}

	_, err := Init(assets.Defaults(), opts)
	require.NoError(t, err)
	report, err := Init(assets.Defaults(), opts)
	require.NoError(t, err)
	assert.Contains(t, report.Copied, "config/config.yaml")
	assert.Empty(t, report.Skipped)

	tests := []struct {
		name       string
		executable bool
	}{
		{"config/config.yaml", false},
		{"assets/workflow_profile/config.yaml", false},
		{"assets/slurm_header_biowulf.sh", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := os.Stat(filepath.Join(dest, filepath.FromSlash(tt.name)))
			require.NoError(t, err)
			perm := info.Mode().Perm()
			assert.NotZero(t, perm&0200, "owner write bit missing: %v", perm)
			assert.Equal(t, tt.executable, perm&0100 != 0, "owner exec bit: %v", perm)
		})
	}
}

func TestInitOverwriteReplacesReadOnlyFile(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "config"), 0755))
	stale := filepath.Join(dest, "config", "config.yaml")
	require.NoError(t, os.WriteFile(stale, []byte("outdir: stale\n"), 0444))

	_, err := Init(sourceTree(), Options{Patterns: []string{"config/config.yaml"}, Dest: dest, Overwrite: true})
	require.NoError(t, err)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "outdir: results\n", string(data))

	info, err := os.Stat(stale)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0200)
}

func TestCopyMode(t *testing.T) {
	assert.Equal(t, os.FileMode(0644), copyMode("config/config.yaml", 0444))
	assert.Equal(t, os.FileMode(0755), copyMode("assets/header.sh", 0444))
	assert.Equal(t, os.FileMode(0755), copyMode("bin/tool", 0555))
	assert.Equal(t, os.FileMode(0644), copyMode("config/x.yaml", 0600))
}
