// Package config loads agentsquad settings from a YAML file, AGENTSQUAD_*
// environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentsquad/dispatch"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/reflection"
	"github.com/hupe1980/agentsquad/session"
)

const (
	configName = "agentsquad"
	configType = "yaml"
	envPrefix  = "AGENTSQUAD"
)

// Providers understood by the CLI.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config is the typed configuration document.
type Config struct {
	Provider   string           `mapstructure:"provider" yaml:"provider"`
	Model      string           `mapstructure:"model" yaml:"model"`
	APIKeyEnv  string           `mapstructure:"api_key_env" yaml:"api_key_env"`
	Stream     bool             `mapstructure:"stream" yaml:"stream"`
	MaxHistory int              `mapstructure:"max_history" yaml:"max_history"`
	MaxCalls   int              `mapstructure:"max_calls" yaml:"max_calls"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" yaml:"dispatch"`
	Reflection ReflectionConfig `mapstructure:"reflection" yaml:"reflection"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Groups     []GroupConfig    `mapstructure:"groups" yaml:"groups,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type SessionConfig struct {
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval" yaml:"watchdog_interval"`
	StuckTimeout     time.Duration `mapstructure:"stuck_timeout" yaml:"stuck_timeout"`
	ToolStuckTimeout time.Duration `mapstructure:"tool_stuck_timeout" yaml:"tool_stuck_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

type DispatchConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel" yaml:"max_parallel"`
	EvaluatorTimeout  time.Duration `mapstructure:"evaluator_timeout" yaml:"evaluator_timeout"`
	WaitForSequential bool          `mapstructure:"wait_for_sequential" yaml:"wait_for_sequential"`
}

type ReflectionConfig struct {
	MaxIterations  int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	GoalScore      float64 `mapstructure:"goal_score" yaml:"goal_score"`
	StallThreshold float64 `mapstructure:"stall_threshold" yaml:"stall_threshold"`
	StallLimit     int     `mapstructure:"stall_limit" yaml:"stall_limit"`
	ErrorLimit     int     `mapstructure:"error_limit" yaml:"error_limit"`
	EvaluatorModel string  `mapstructure:"evaluator_model" yaml:"evaluator_model,omitempty"`
}

type StoreConfig struct {
	Path  string        `mapstructure:"path" yaml:"path"`
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

type MetricsConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// GroupConfig declares a group and its sessions.
type GroupConfig struct {
	Name           string         `mapstructure:"name" yaml:"name"`
	Mode           string         `mapstructure:"mode" yaml:"mode"`
	SharedContext  string         `mapstructure:"shared_context" yaml:"shared_context,omitempty"`
	RoutingContext string         `mapstructure:"routing_context" yaml:"routing_context,omitempty"`
	Members        []MemberConfig `mapstructure:"members" yaml:"members"`
}

// MemberConfig declares one group session.
type MemberConfig struct {
	Name           string `mapstructure:"name" yaml:"name"`
	Model          string `mapstructure:"model" yaml:"model,omitempty"`
	Role           string `mapstructure:"role" yaml:"role,omitempty"`
	PreferredModel string `mapstructure:"preferred_model" yaml:"preferred_model,omitempty"`
	SystemPrompt   string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Specialization string `mapstructure:"specialization" yaml:"specialization,omitempty"`
	WorkingDir     string `mapstructure:"working_dir" yaml:"working_dir,omitempty"`
}

// Load reads configuration. An empty path searches the working directory
// and ~/.agentsquad for agentsquad.yaml; a missing file is not an error
// then. An explicit path must exist.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so flags bound to
// v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agentsquad"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderAnthropic)
	v.SetDefault("model", "claude-3-5-sonnet-20241022")
	v.SetDefault("api_key_env", "ANTHROPIC_API_KEY")
	v.SetDefault("stream", true)
	v.SetDefault("max_history", 0)
	v.SetDefault("max_calls", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.watchdog_interval", session.DefaultConfig.WatchdogInterval)
	v.SetDefault("session.stuck_timeout", session.DefaultConfig.StuckTimeout)
	v.SetDefault("session.tool_stuck_timeout", session.DefaultConfig.ToolStuckTimeout)
	v.SetDefault("session.settle_delay", session.DefaultConfig.SettleDelay)

	v.SetDefault("dispatch.max_parallel", dispatch.DefaultConfig.MaxParallel)
	v.SetDefault("dispatch.evaluator_timeout", dispatch.DefaultConfig.EvaluatorTimeout)
	v.SetDefault("dispatch.wait_for_sequential", dispatch.DefaultConfig.WaitForSequential)

	v.SetDefault("reflection.max_iterations", reflection.DefaultConfig.MaxIterations)
	v.SetDefault("reflection.goal_score", reflection.DefaultConfig.GoalScore)
	v.SetDefault("reflection.stall_threshold", reflection.DefaultConfig.StallThreshold)
	v.SetDefault("reflection.stall_limit", reflection.DefaultConfig.StallLimit)
	v.SetDefault("reflection.error_limit", reflection.DefaultConfig.ErrorLimit)
	v.SetDefault("reflection.evaluator_model", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.delay", 500*time.Millisecond)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.namespace", "agentsquad")
}

// Validate checks enumerations and cross-field constraints.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Reflection.GoalScore < 0 || c.Reflection.GoalScore > 1 {
		return fmt.Errorf("config: reflection.goal_score %v outside [0,1]", c.Reflection.GoalScore)
	}

	seen := make(map[string]string)
	for i, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("config: groups[%d]: name is required", i)
		}
		if !group.Mode(g.Mode).Valid() {
			return fmt.Errorf("config: group %s: unknown mode %q", g.Name, g.Mode)
		}
		orchestrators := 0
		for _, m := range g.Members {
			if m.Name == "" {
				return fmt.Errorf("config: group %s: member name is required", g.Name)
			}
			if other, ok := seen[m.Name]; ok {
				return fmt.Errorf("config: session %s is a member of %s and %s", m.Name, other, g.Name)
			}
			seen[m.Name] = g.Name
			switch group.Role(m.Role) {
			case "", group.RoleWorker:
			case group.RoleOrchestrator:
				orchestrators++
			default:
				return fmt.Errorf("config: member %s: unknown role %q", m.Name, m.Role)
			}
		}
		if orchestrators > 1 {
			return fmt.Errorf("config: group %s has %d orchestrators", g.Name, orchestrators)
		}
	}
	return nil
}

// Group returns the named group definition.
func (c *Config) Group(name string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// APIKey resolves the provider key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// SessionSettings converts to session.Config.
func (c *Config) SessionSettings() session.Config {
	return session.Config{
		WatchdogInterval: c.Session.WatchdogInterval,
		StuckTimeout:     c.Session.StuckTimeout,
		ToolStuckTimeout: c.Session.ToolStuckTimeout,
		SettleDelay:      c.Session.SettleDelay,
	}
}

// DispatchSettings converts to dispatch.Config.
func (c *Config) DispatchSettings() dispatch.Config {
	return dispatch.Config{
		MaxParallel:       c.Dispatch.MaxParallel,
		EvaluatorTimeout:  c.Dispatch.EvaluatorTimeout,
		WaitForSequential: c.Dispatch.WaitForSequential,
	}
}

// ReflectionSettings converts to reflection.Config, keeping library
// defaults for knobs the file does not expose.
func (c *Config) ReflectionSettings() reflection.Config {
	rc := reflection.DefaultConfig
	rc.MaxIterations = c.Reflection.MaxIterations
	rc.GoalScore = c.Reflection.GoalScore
	rc.StallThreshold = c.Reflection.StallThreshold
	rc.StallLimit = c.Reflection.StallLimit
	rc.ErrorLimit = c.Reflection.ErrorLimit
	return rc
}

// LogLevel parses the configured level.
func (c *Config) LogLevel() logging.LogLevel {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LogLevelDebug, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	default:
		return logging.LogLevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
