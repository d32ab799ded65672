package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.Equal(t, 1, cfg.PruneThreshold)
	assert.Equal(t, 4096, cfg.ConflictCacheSize)
	assert.Equal(t, 10, cfg.ConflictBatchDivisor)
}

func TestConflictBatchSizeDividesMaxBatchSize(t *testing.T) {
	cfg := Config{MaxBatchSize: 1000, ConflictBatchDivisor: 10}
	assert.Equal(t, 100, cfg.ConflictBatchSize())
}

func TestConflictBatchSizeFloorsAtOne(t *testing.T) {
	cfg := Config{MaxBatchSize: 5, ConflictBatchDivisor: 10}
	assert.Equal(t, 1, cfg.ConflictBatchSize())
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("SYNCD_MAX_BATCH_SIZE", "42")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MaxBatchSize)
}
