package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/reflection"
	"github.com/hupe1980/agentsquad/session"
)

const sample = `
provider: openai
model: gpt-4o-mini
api_key_env: SQUAD_TEST_KEY
log:
  level: debug
session:
  stuck_timeout: 90s
  settle_delay: 100ms
dispatch:
  max_parallel: 4
reflection:
  max_iterations: 8
  goal_score: 0.85
  evaluator_model: gpt-4o
store:
  path: /tmp/squad.yaml
groups:
  - name: release
    mode: orchestrator_reflect
    shared_context: monorepo at ./src
    members:
      - name: lead
        role: orchestrator
        model: gpt-4o
      - name: backend
        specialization: Go services
      - name: frontend
        preferred_model: gpt-4o-mini
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentsquad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, logging.LogLevelDebug, cfg.LogLevel())
	assert.Equal(t, 90*time.Second, cfg.Session.StuckTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.SettleDelay)
	assert.Equal(t, session.DefaultConfig.WatchdogInterval, cfg.Session.WatchdogInterval, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Dispatch.MaxParallel)
	assert.True(t, cfg.Dispatch.WaitForSequential)
	assert.Equal(t, "/tmp/squad.yaml", cfg.Store.Path)

	rc := cfg.ReflectionSettings()
	assert.Equal(t, 8, rc.MaxIterations)
	assert.InDelta(t, 0.85, rc.GoalScore, 1e-9)
	assert.Equal(t, reflection.DefaultConfig.DegradationDelta, rc.DegradationDelta)
	assert.Equal(t, "gpt-4o", cfg.Reflection.EvaluatorModel)

	g, ok := cfg.Group("release")
	require.True(t, ok)
	assert.Equal(t, "orchestrator_reflect", g.Mode)
	require.Len(t, g.Members, 3)
	assert.Equal(t, "orchestrator", g.Members[0].Role)
	assert.Equal(t, "Go services", g.Members[1].Specialization)

	_, ok = cfg.Group("missing")
	assert.False(t, ok)
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.True(t, cfg.Stream)
	assert.Equal(t, session.DefaultConfig, cfg.SessionSettings())
	assert.Equal(t, reflection.DefaultConfig.MaxIterations, cfg.Reflection.MaxIterations)
	assert.Equal(t, "agentsquad", cfg.Metrics.Namespace)
	assert.Empty(t, cfg.Groups)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sample)
	t.Setenv("AGENTSQUAD_MODEL", "gpt-4.1")
	t.Setenv("AGENTSQUAD_DISPATCH_MAX_PARALLEL", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.Model)
	assert.Equal(t, 2, cfg.Dispatch.MaxParallel)
}

func TestLoadWith_BoundValuesWin(t *testing.T) {
	v := viper.New()
	v.Set("provider", ProviderMock)

	cfg, err := LoadWith(v, writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, cfg.Provider)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Provider: ProviderMock, Log: LogConfig{Level: "info"}, Reflection: ReflectionConfig{GoalScore: 0.9}}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		err    string
	}{
		{"valid", func(*Config) {}, ""},
		{"provider", func(c *Config) { c.Provider = "bard" }, "unknown provider"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"goal score", func(c *Config) { c.Reflection.GoalScore = 1.5 }, "goal_score"},
		{"group name", func(c *Config) { c.Groups = []GroupConfig{{Mode: "broadcast"}} }, "name is required"},
		{"mode", func(c *Config) { c.Groups = []GroupConfig{{Name: "g", Mode: "chaos"}} }, "unknown mode"},
		{"role", func(c *Config) {
			c.Groups = []GroupConfig{{Name: "g", Mode: "broadcast", Members: []MemberConfig{{Name: "a", Role: "boss"}}}}
		}, "unknown role"},
		{"two orchestrators", func(c *Config) {
			c.Groups = []GroupConfig{{Name: "g", Mode: "orchestrator", Members: []MemberConfig{
				{Name: "a", Role: "orchestrator"}, {Name: "b", Role: "orchestrator"},
			}}}
		}, "2 orchestrators"},
		{"shared member", func(c *Config) {
			c.Groups = []GroupConfig{
				{Name: "g1", Mode: "broadcast", Members: []MemberConfig{{Name: "a"}}},
				{Name: "g2", Mode: "broadcast", Members: []MemberConfig{{Name: "a"}}},
			}
		}, "member of g1 and g2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("SQUAD_TEST_KEY", "sk-test")
	cfg := Config{APIKeyEnv: "SQUAD_TEST_KEY"}
	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Empty(t, (&Config{}).APIKey())
}
