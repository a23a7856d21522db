// Package config loads snakerun's application configuration.
//
// Sources, lowest to highest precedence:
//
//  1. Built-in defaults (setDefaults)
//  2. Config file (--config, ./snakerun.yaml, $XDG_CONFIG_HOME/snakerun/config.yaml)
//  3. SNAKERUN_* environment variables
//  4. Runtime overrides passed to Load (CLI flags)
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/merge"
)

// Config is the effective application configuration.
type Config struct {
	Engine          EngineConfig          `mapstructure:"engine"`
	Scheduler       SchedulerConfig       `mapstructure:"scheduler"`
	Paths           PathsConfig           `mapstructure:"paths"`
	Registry        RegistryConfig        `mapstructure:"registry"`
	WorkflowProfile WorkflowProfileConfig `mapstructure:"workflow_profile"`
	Run             RunConfig             `mapstructure:"run"`
	Logging         LoggingConfig         `mapstructure:"logging"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-"`
}

// EngineConfig configures the workflow engine invocation.
type EngineConfig struct {
	Binary      string   `mapstructure:"binary"`
	DefaultArgs []string `mapstructure:"default_args"`
	Module      string   `mapstructure:"module"`
	Shell       string   `mapstructure:"shell"`
}

// SchedulerConfig configures resource-manager queries and batch submission.
type SchedulerConfig struct {
	QueryCommand  []string `mapstructure:"query_command"`
	ClusterKey    string   `mapstructure:"cluster_key"`
	SubmitCommand []string `mapstructure:"submit_command"`
	ScriptName    string   `mapstructure:"script_name"`
}

// PathsConfig locates system assets and per-directory state.
type PathsConfig struct {
	// BaseDir replaces the embedded defaults tree when set.
	BaseDir  string `mapstructure:"base_dir"`
	RunsDir  string `mapstructure:"runs_dir"`
	LockFile string `mapstructure:"lock_file"`
}

// RegistryConfig names an operator registry layer.
type RegistryConfig struct {
	File string `mapstructure:"file"`
}

// WorkflowProfileConfig configures workflow-profile materialization.
type WorkflowProfileConfig struct {
	// SystemDefault is the config.yaml copied into a new workflow profile,
	// relative to the assets root.
	SystemDefault string `mapstructure:"system_default"`
}

// RunConfig holds defaults for `snakerun run`.
type RunConfig struct {
	Main    string `mapstructure:"main"`
	Mode    string `mapstructure:"mode"`
	Threads int    `mapstructure:"threads"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AppIdentity names the application for config file and env lookups.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is used when Load runs before SetAppIdentity.
var DefaultIdentity = AppIdentity{
	BinaryName: "snakerun",
	ConfigName: "snakerun",
	EnvPrefix:  "SNAKERUN_",
}

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *AppIdentity
	configFile  string
)

// SetAppIdentity overrides the identity used by subsequent loads.
func SetAppIdentity(id AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile pins an explicit config file. An explicit file that does
// not exist is an error at Load time.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the configuration from all sources and stores it for
// GetConfig. Each override map is deep-merged over the previous one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	setDefaults(v)

	source, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(strings.TrimSuffix(appIdentity.EnvPrefix, "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for key, value := range flatten("", merge.All(nil, overrides...)) {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		shellWordsHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = source

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.binary", "snakemake")
	v.SetDefault("engine.default_args", []string{})
	v.SetDefault("engine.module", "snakemake")
	v.SetDefault("engine.shell", "bash")

	v.SetDefault("scheduler.query_command", []string{"scontrol", "show", "config"})
	v.SetDefault("scheduler.cluster_key", "ClusterName")
	v.SetDefault("scheduler.submit_command", []string{"sbatch"})
	v.SetDefault("scheduler.script_name", "submit_slurm.sh")

	v.SetDefault("paths.base_dir", "")
	v.SetDefault("paths.runs_dir", filepath.Join(".snakerun", "runs"))
	v.SetDefault("paths.lock_file", ".snakerun.lock")

	v.SetDefault("registry.file", "")
	v.SetDefault("workflow_profile.system_default", "assets/workflow_profile/config.yaml")

	v.SetDefault("run.main", filepath.Join("workflow", "Snakefile"))
	v.SetDefault("run.mode", "local")
	v.SetDefault("run.threads", 1)

	v.SetDefault("logging.level", "info")
}

func readConfigFile(v *viper.Viper) (string, error) {
	v.SetConfigType("yaml")

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", apperrors.NewSourceMissing(configFile)
			}
			return "", fmt.Errorf("stat config %s: %w", configFile, err)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", configFile, err)
		}
		return configFile, nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// getUserConfigPaths lists config file candidates in search order.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	paths := []string{appIdentity.ConfigName + ".yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName, "config.yaml"))
	}
	return paths
}

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var envAliases = map[string]string{
	"LOG_LEVEL": "logging.level",
	"MODE":      "run.mode",
	"THREADS":   "run.threads",
	"BASE_DIR":  "paths.base_dir",
}

// getEnvSpecs returns the short aliases; full names such as
// SNAKERUN_ENGINE_MODULE are handled by AutomaticEnv.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envAliases))
	for name, path := range envAliases {
		specs = append(specs, EnvSpec{Name: appIdentity.EnvPrefix + name, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// shellWordsHook splits string values destined for []string fields with
// POSIX shell rules, so SNAKERUN_ENGINE_DEFAULT_ARGS="--use-singularity
// --singularity-args '-B /data'" keeps the quoted argument intact.
func shellWordsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if s == "" {
			return []string{}, nil
		}
		words, err := shellquote.Split(s)
		if err != nil {
			return nil, fmt.Errorf("split %q: %w", s, err)
		}
		return words, nil
	}
}

// flatten turns nested maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.Run.Threads < 1 {
		return fmt.Errorf("run.threads must be >= 1, got %d", cfg.Run.Threads)
	}
	if strings.TrimSpace(cfg.Engine.Binary) == "" {
		return fmt.Errorf("engine.binary is required")
	}
	if len(cfg.Scheduler.SubmitCommand) == 0 {
		return fmt.Errorf("scheduler.submit_command is required")
	}
	if strings.TrimSpace(cfg.Scheduler.ScriptName) == "" {
		return fmt.Errorf("scheduler.script_name is required")
	}
	return nil
}
