package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Game.Rounds)
	assert.Equal(t, 30*time.Second, cfg.Game.ChatDuration)
	assert.Equal(t, "CHAT_DRIVEN", cfg.Game.DefaultStrategy)
	assert.True(t, cfg.Game.RequireLockBeforeContinue)
	assert.Equal(t, 2000, cfg.Dashboard.DefaultLimit)
	assert.Equal(t, 5000, cfg.Dashboard.MaxLimit)
	assert.Equal(t, 80, cfg.LLM.DecisionMaxTokens)
	assert.InDelta(t, 0.4, cfg.LLM.ShortReplyProbability, 1e-9)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_FileAndClassStrategies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
game:
  rounds: 5
  chat_duration: 45s
  default_strategy: ALWAYS_DEFECT
  class_strategies:
    MBA-A1: RANDOM_50_50
security:
  class_password: open-sesame
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Game.Rounds)
	assert.Equal(t, 45*time.Second, cfg.Game.ChatDuration)
	assert.Equal(t, "open-sesame", cfg.Security.ClassPassword)

	// 班级代码大小写不敏感
	assert.Equal(t, "RANDOM_50_50", cfg.Game.StrategyFor("mba-a1"))
	assert.Equal(t, "RANDOM_50_50", cfg.Game.StrategyFor(" MBA-A1 "))
	assert.Equal(t, "ALWAYS_DEFECT", cfg.Game.StrategyFor("other"))
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("CLASS_PASS", "from-env")
	t.Setenv("ADMIN_EXPORT_KEY", "export-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Security.ClassPassword)
	assert.Equal(t, "export-env", cfg.Security.ExportKey)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Game.Rounds = 0
	assert.Error(t, cfg.Validate())

	cfg.Game.Rounds = 10
	cfg.LLM.ShortReplyProbability = 1.5
	assert.Error(t, cfg.Validate())

	cfg.LLM.ShortReplyProbability = 0.4
	cfg.Dashboard.DefaultLimit = 9000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Dashboard.MaxLimit, cfg.Dashboard.DefaultLimit)
}
