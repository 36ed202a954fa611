// Package settings loads controller configuration from an optional YAML
// file, SWEEPCTL_* environment variables and command-line flags.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/weiihann/sweepctl/harness"
	"github.com/weiihann/sweepctl/sweep"
	"github.com/weiihann/sweepctl/workload"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "SWEEPCTL"

// Keys understood by the controller.
const (
	KeyClientConfig  = "client_config"
	KeyWorkdir       = "workdir"
	KeyBinaryDir     = "binary_dir"
	KeyLibraryPath   = "library_path"
	KeyVerboseEnv    = "verbose_env"
	KeyEnv           = "env"
	KeySudo          = "sudo"
	KeyOutputDir     = "output_dir"
	KeyOutputExt     = "output_ext"
	KeyTimeout       = "timeout"
	KeyLaunchRetries = "launch_retries"
	KeyHistoryDB     = "history_db"
	KeyWorkloads     = "workloads"
)

// Range generates an integer axis as start, start+step, ..., end.
type Range struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
	Step  int `mapstructure:"step"`
}

// WorkloadOverride customizes a built-in workload.
type WorkloadOverride struct {
	Command string           `mapstructure:"command"`
	Axes    map[string][]any `mapstructure:"axes"`
	Ranges  map[string]Range `mapstructure:"ranges"`
}

// Settings is the resolved controller configuration.
type Settings struct {
	ClientConfig  string                      `mapstructure:"client_config"`
	Workdir       string                      `mapstructure:"workdir"`
	BinaryDir     string                      `mapstructure:"binary_dir"`
	LibraryPath   string                      `mapstructure:"library_path"`
	VerboseEnv    string                      `mapstructure:"verbose_env"`
	Env           []string                    `mapstructure:"env"`
	Sudo          bool                        `mapstructure:"sudo"`
	OutputDir     string                      `mapstructure:"output_dir"`
	OutputExt     string                      `mapstructure:"output_ext"`
	Timeout       time.Duration               `mapstructure:"timeout"`
	LaunchRetries int                         `mapstructure:"launch_retries"`
	HistoryDB     string                      `mapstructure:"history_db"`
	Workloads     map[string]WorkloadOverride `mapstructure:"workloads"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyClientConfig, "client.toml")
	v.SetDefault(KeyWorkdir, ".")
	v.SetDefault(KeyBinaryDir, filepath.Join("target", "release"))
	v.SetDefault(KeyLibraryPath, filepath.Join("..", "net", "target", "native"))
	v.SetDefault(KeyVerboseEnv, "RUST_LOG=info")
	v.SetDefault(KeyEnv, []string{})
	v.SetDefault(KeySudo, false)
	v.SetDefault(KeyOutputDir, ".")
	v.SetDefault(KeyOutputExt, "data")
	v.SetDefault(KeyTimeout, 10*time.Minute)
	v.SetDefault(KeyLaunchRetries, 3)
	v.SetDefault(KeyHistoryDB, defaultHistoryPath())
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".sweepctl", "history.db")
}

// ReadFile merges the YAML settings file at path into v. An empty path
// looks for sweepctl.yaml in the working directory and is not an error
// when none exists.
func ReadFile(v *viper.Viper, path string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sweepctl")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}

		return fmt.Errorf("read settings: %w", err)
	}

	return nil
}

// Load decodes v into Settings and validates it.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	if s.OutputExt == "" {
		return Settings{}, fmt.Errorf("%s must not be empty", KeyOutputExt)
	}

	if s.Timeout < 0 {
		return Settings{}, fmt.Errorf("%s must not be negative", KeyTimeout)
	}

	for name := range s.Workloads {
		if _, err := workload.Lookup(name); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyWorkloads, err)
		}
	}

	return s, nil
}

// RunEnv returns the environment overlay for every client run: the
// verbose logging switch followed by the extra variables.
func (s Settings) RunEnv() []string {
	env := make([]string, 0, len(s.Env)+1)
	if s.VerboseEnv != "" {
		env = append(env, s.VerboseEnv)
	}

	return append(env, s.Env...)
}

// RunConfig returns the executor configuration shared by every run.
func (s Settings) RunConfig() harness.RunConfig {
	return harness.RunConfig{
		Dir:           s.Workdir,
		Env:           s.RunEnv(),
		LibraryPath:   s.LibraryPath,
		Timeout:       s.Timeout,
		LaunchRetries: s.LaunchRetries,
	}
}

// ClientConfigPath resolves the client config path against Workdir.
func (s Settings) ClientConfigPath() string {
	if filepath.IsAbs(s.ClientConfig) {
		return s.ClientConfig
	}

	return filepath.Join(s.Workdir, s.ClientConfig)
}

// Workload returns the named built-in workload with any overrides applied.
func (s Settings) Workload(name string) (workload.Workload, error) {
	w, err := workload.Lookup(name)
	if err != nil {
		return workload.Workload{}, err
	}

	override, ok := s.Workloads[name]
	if !ok {
		return w, nil
	}

	if override.Command != "" {
		cmd, err := harness.SplitCommand(override.Command)
		if err != nil {
			return workload.Workload{}, fmt.Errorf("workload %s: %w", name, err)
		}

		w.Binary = cmd.Binary
		w.Args = cmd.ExtraArgs
	}

	for _, axis := range sortedKeys(override.Ranges) {
		r := override.Ranges[axis]

		values := sweep.Range(r.Start, r.End, r.Step)
		if len(values) == 0 {
			return workload.Workload{}, fmt.Errorf(
				"workload %s: axis %s: empty range %d..%d step %d",
				name, axis, r.Start, r.End, r.Step,
			)
		}

		if w.Plan, err = w.Plan.WithValues(axis, values); err != nil {
			return workload.Workload{}, fmt.Errorf("workload %s: %w", name, err)
		}
	}

	for _, axis := range sortedKeys(override.Axes) {
		values, err := stringify(override.Axes[axis])
		if err != nil {
			return workload.Workload{}, fmt.Errorf("workload %s: axis %s: %w", name, axis, err)
		}

		if w.Plan, err = w.Plan.WithValues(axis, values); err != nil {
			return workload.Workload{}, fmt.Errorf("workload %s: %w", name, err)
		}
	}

	return w, nil
}

// stringify converts YAML scalars to their literal text.
func stringify(raw []any) ([]string, error) {
	out := make([]string, len(raw))

	for i, v := range raw {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}

		out[i] = s
	}

	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
