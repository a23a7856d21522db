package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/3leaps/snakerun/internal/assets"
	"github.com/3leaps/snakerun/internal/config"
	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/hpc"
	"github.com/3leaps/snakerun/pkg/process"
	"github.com/3leaps/snakerun/pkg/profile"
	"github.com/3leaps/snakerun/pkg/runregistry"
)

// newRunner is swapped out in tests.
var newRunner = func() process.Runner {
	return process.NewExecRunner()
}

// workDir resolves the directory a command operates on.
func workDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	return os.Getwd()
}

// loadRegistry layers the embedded registry, the base_dir registry (if the
// assets tree has one) and the operator's registry.file.
func loadRegistry(cfg *config.Config, assetsFS fs.FS) (*profile.Registry, error) {
	layers := [][]byte{}

	builtin, err := fs.ReadFile(assets.Defaults(), assets.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("read built-in registry: %w", err)
	}
	layers = append(layers, builtin)

	if cfg.Paths.BaseDir != "" {
		data, err := fs.ReadFile(assetsFS, assets.RegistryFile)
		switch {
		case err == nil:
			layers = append(layers, data)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read registry from %s: %w", cfg.Paths.BaseDir, err)
		}
	}

	if cfg.Registry.File != "" {
		data, err := os.ReadFile(cfg.Registry.File)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.NewSourceMissing(cfg.Registry.File)
			}
			return nil, fmt.Errorf("read registry %s: %w", cfg.Registry.File, err)
		}
		layers = append(layers, data)
	}

	return profile.LoadRegistry(layers...)
}

func newDetector(cfg *config.Config, runner process.Runner) *hpc.Detector {
	return hpc.NewDetector(runner,
		hpc.WithCommand(cfg.Scheduler.QueryCommand),
		hpc.WithClusterKey(cfg.Scheduler.ClusterKey),
		hpc.WithLogger(observability.CLILogger),
	)
}

func runStore(cfg *config.Config, dir string) *runregistry.Store {
	root := cfg.Paths.RunsDir
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	return runregistry.NewStore(root)
}
