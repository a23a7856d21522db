package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/hpc"
)

// WorkflowProfileConfig is the file Snakemake reads from a workflow-profile
// directory.
const WorkflowProfileConfig = "config.yaml"

// Resolver answers profile questions for one invocation.
type Resolver struct {
	registry *Registry
	assets   fs.FS
	logger   *zap.Logger
}

// NewResolver returns a Resolver over registry. System default files are
// read from assets.
func NewResolver(registry *Registry, assets fs.FS, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: registry, assets: assets, logger: logger}
}

// Registry returns the registry the resolver was built with.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// ResolveExecutionProfile returns the registered profile for env.
// Undetected and unregistered clusters resolve to false.
func (r *Resolver) ResolveExecutionProfile(env hpc.Environment) (ExecutionProfile, bool) {
	name, ok := env.Name()
	if !ok {
		return ExecutionProfile{}, false
	}
	return r.registry.Lookup(name)
}

// ResolveWorkflowProfile makes sure requestedDir holds a config.yaml and
// returns requestedDir.
//
// When requestedDir is empty nothing is touched and "" is returned. When
// the config is missing, systemDefault (a path inside the assets FS) is
// copied into place; an existing config is never overwritten.
func (r *Resolver) ResolveWorkflowProfile(requestedDir, systemDefault string) (string, error) {
	if requestedDir == "" {
		return "", nil
	}

	target := filepath.Join(requestedDir, WorkflowProfileConfig)
	if _, err := os.Stat(target); err == nil {
		return requestedDir, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat workflow profile config: %w", err)
	}

	data, err := r.readDefault(systemDefault)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(requestedDir, 0755); err != nil {
		return "", fmt.Errorf("create workflow profile dir: %w", err)
	}
	// O_EXCL keeps a concurrently created config intact.
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return requestedDir, nil
		}
		return "", fmt.Errorf("create workflow profile config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write workflow profile config: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close workflow profile config: %w", err)
	}

	r.logger.Info("Copied default workflow profile config",
		zap.String("source", systemDefault),
		zap.String("path", target))
	return requestedDir, nil
}

func (r *Resolver) readDefault(path string) ([]byte, error) {
	if path == "" || r.assets == nil {
		return nil, apperrors.NewSourceMissing(path)
	}
	data, err := fs.ReadFile(r.assets, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, apperrors.NewSourceMissing(path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
