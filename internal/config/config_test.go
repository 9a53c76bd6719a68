package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notenetra/creditscore/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := domain.DefaultConfig()
	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, want.Scoring, cfg.Scoring)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(16<<20), cfg.Server.MaxBodyBytes)
	assert.Empty(t, cfg.Server.CORSOrigins)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("CREDITSCORE_SCORING_WINDOWDAYS", "180")
	t.Setenv("CREDITSCORE_SCORING_CLOCKSKEW", "2m")
	t.Setenv("CREDITSCORE_SCORING_HISTORYEPOCH", "weekly")
	t.Setenv("CREDITSCORE_WORKER_TENANTIDS", "tenant-a,tenant-b")
	t.Setenv("CREDITSCORE_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 180, cfg.Scoring.WindowDays)
	assert.Equal(t, 2*time.Minute, cfg.Scoring.ClockSkew)
	assert.Equal(t, "weekly", cfg.Scoring.HistoryEpoch)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, cfg.Worker.TenantIDs)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("CREDITSCORE_TIER", "pro")
	t.Setenv("CREDITSCORE_EVENTBUS_TYPE", "kafka")
	t.Setenv("CREDITSCORE_EVENTBUS_KAFKABROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "kafka", cfg.EventBus.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.KafkaBrokers)
	assert.True(t, cfg.Worker.RecordHistory)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creditscore.yaml")
	content := `
scoring:
  weights:
    consistency: 0.25
    growth: 0.25
    diversity: 0.25
    timing: 0.25
  subperioddays: 14
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Scoring.Weights.Timing)
	assert.Equal(t, 14, cfg.Scoring.SubPeriodDays)
	assert.Equal(t, 7, cfg.Scoring.ExpectedCollectionCadenceDays)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("CREDITSCORE_SCORING_SUBPERIODDAYS", "30")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.Scoring.SubPeriodDays)
	})
}

func TestLoadRejectsInvalidScoring(t *testing.T) {
	t.Run("weights", func(t *testing.T) {
		t.Setenv("CREDITSCORE_SCORING_WEIGHTS_GROWTH", "0.9")
		_, err := Load("")
		var cerr *domain.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "weights", cerr.Field)
	})

	t.Run("tier", func(t *testing.T) {
		t.Setenv("CREDITSCORE_TIER", "enterprise")
		_, err := Load("")
		var cerr *domain.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "tier", cerr.Field)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
