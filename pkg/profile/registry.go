// Package profile resolves which execution profile applies to a run.
//
// The cluster registry maps resource-manager cluster names to a Snakemake
// profile and a Slurm header template. It is built once at startup from
// YAML layers and never changes afterwards.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/snakerun/pkg/merge"
)

// ExecutionProfile describes how to run on one registered cluster.
type ExecutionProfile struct {
	// Cluster is the registry key, as reported by the resource manager.
	Cluster string `mapstructure:"-" yaml:"-"`

	// Profile is the Snakemake profile name passed with --profile.
	Profile string `mapstructure:"profile" yaml:"profile"`

	// SlurmHeader is the header template path, relative to the assets root.
	SlurmHeader string `mapstructure:"slurm" yaml:"slurm"`

	// Module is the environment module providing the engine, if any.
	Module string `mapstructure:"module" yaml:"module,omitempty"`
}

// Registry is an immutable cluster → profile table.
type Registry struct {
	entries map[string]ExecutionProfile
}

// NewRegistry builds a registry from explicit entries. Keys are cluster
// names; the Cluster field of each entry is overwritten with its key.
func NewRegistry(entries map[string]ExecutionProfile) (*Registry, error) {
	r := &Registry{entries: make(map[string]ExecutionProfile, len(entries))}
	for name, p := range entries {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("registry entry with empty cluster name")
		}
		if strings.TrimSpace(p.Profile) == "" {
			return nil, fmt.Errorf("registry entry %q: profile is required", name)
		}
		p.Cluster = name
		r.entries[name] = p
	}
	return r, nil
}

// LoadRegistry parses YAML layers and merges them in order, later layers
// winning per cluster and per field. A cluster set to null in a later
// layer is removed.
func LoadRegistry(layers ...[]byte) (*Registry, error) {
	merged := map[string]any{}
	for i, layer := range layers {
		if len(strings.TrimSpace(string(layer))) == 0 {
			continue
		}
		var doc map[string]any
		if err := yaml.Unmarshal(layer, &doc); err != nil {
			return nil, fmt.Errorf("parse registry layer %d: %w", i, err)
		}
		merged = merge.Merge(merged, doc)
	}

	live := make(map[string]any, len(merged))
	for name, v := range merged {
		if v == nil {
			continue
		}
		live[name] = v
	}

	var entries map[string]ExecutionProfile
	if err := mapstructure.Decode(live, &entries); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return NewRegistry(entries)
}

// Lookup returns the profile registered for cluster.
func (r *Registry) Lookup(cluster string) (ExecutionProfile, bool) {
	if r == nil {
		return ExecutionProfile{}, false
	}
	p, ok := r.entries[strings.TrimSpace(cluster)]
	return p, ok
}

// Clusters returns the registered cluster names in sorted order.
func (r *Registry) Clusters() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
