// Package hpc detects whether snakerun is running inside a Slurm-managed
// cluster by asking the resource manager for its configuration.
package hpc

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/snakerun/pkg/process"
)

// DefaultQueryCommand dumps the Slurm controller configuration.
var DefaultQueryCommand = []string{"scontrol", "show", "config"}

// DefaultClusterKey is the configuration key holding the cluster name.
const DefaultClusterKey = "ClusterName"

// Facts are the key/value pairs reported by the resource manager.
// An empty Facts means no HPC context.
type Facts map[string]string

// Value returns the trimmed value for key and whether it is non-empty.
func (f Facts) Value(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ClusterName returns the value of the ClusterName key.
func (f Facts) ClusterName() (string, bool) {
	return f.Value(DefaultClusterKey)
}

// Environment is the outcome of detection: either a named cluster or none.
type Environment struct {
	cluster string
}

// None is the environment of a machine without a resource manager.
var None = Environment{}

// Cluster returns the environment for a detected cluster. An empty name is
// equivalent to None.
func Cluster(name string) Environment {
	return Environment{cluster: strings.TrimSpace(name)}
}

// Detected reports whether a cluster was found.
func (e Environment) Detected() bool {
	return e.cluster != ""
}

// Name returns the cluster name and whether one was detected.
func (e Environment) Name() (string, bool) {
	return e.cluster, e.cluster != ""
}

func (e Environment) String() string {
	if e.cluster == "" {
		return "none"
	}
	return e.cluster
}

// Detector queries the resource manager.
type Detector struct {
	runner     process.Runner
	command    []string
	clusterKey string
	logger     *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithCommand overrides the query command.
func WithCommand(argv []string) Option {
	return func(d *Detector) {
		if len(argv) > 0 {
			d.command = append([]string(nil), argv...)
		}
	}
}

// WithClusterKey overrides the key looked up for the cluster name.
func WithClusterKey(key string) Option {
	return func(d *Detector) {
		if key = strings.TrimSpace(key); key != "" {
			d.clusterKey = key
		}
	}
}

// WithLogger sets the logger used for debug diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector returns a Detector using runner.
func NewDetector(runner process.Runner, opts ...Option) *Detector {
	d := &Detector{
		runner:     runner,
		command:    append([]string(nil), DefaultQueryCommand...),
		clusterKey: DefaultClusterKey,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Facts runs the query command and parses its output. A missing or failing
// resource manager yields empty Facts, never an error.
func (d *Detector) Facts(ctx context.Context) Facts {
	out, err := d.runner.Output(ctx, d.command...)
	if err != nil {
		d.logger.Debug("Resource manager query failed; assuming no HPC context",
			zap.Strings("command", d.command),
			zap.Error(err))
		return Facts{}
	}
	return ParseFacts(out)
}

// Detect runs the query and folds the result into an Environment.
func (d *Detector) Detect(ctx context.Context) Environment {
	facts := d.Facts(ctx)
	name, ok := facts.Value(d.clusterKey)
	if !ok {
		d.logger.Debug("No cluster detected", zap.Int("facts", len(facts)))
		return None
	}
	d.logger.Debug("Detected cluster", zap.String("cluster", name))
	return Cluster(name)
}

// ParseFacts parses "KEY = VALUE" lines. The value is everything after the
// first '='; lines without '=' are skipped.
func ParseFacts(out []byte) Facts {
	facts := Facts{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		facts[key] = strings.TrimSpace(value)
	}
	return facts
}
