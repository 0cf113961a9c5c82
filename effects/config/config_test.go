package config_test

import (
	"testing"
	"time"

	"github.com/on-the-ground/effect_stack/effects/config"
	"github.com/on-the-ground/effect_stack/effects/configkeys"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesFromViper(t *testing.T) {
	v := viper.New()
	v.Set(configkeys.ConfigEffectRuntimeCleanupTimeout, "250ms")
	v.Set(configkeys.ConfigEffectStateHandlerNumWorkers, 8)

	cfg, err := config.Load(v)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.CleanupTimeout)
	require.Equal(t, 8, cfg.State.NumWorkers)
	require.Equal(t, config.DefaultStateBufferSize, cfg.State.BufferSize)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("EFFECT_STACK_CONFIG_EFFECT_PARALLEL_LIMIT", "3")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Parallel.Limit)
}

func TestNormalize_ReplacesNonPositiveValues(t *testing.T) {
	cfg := config.Runtime{CleanupTimeout: -1}.Normalize()
	require.Equal(t, config.DefaultCleanupTimeout, cfg.CleanupTimeout)
	require.Equal(t, config.DefaultStateNumWorkers, cfg.State.NumWorkers)
	require.Equal(t, int64(config.DefaultMemoMaxCost), cfg.Memo.MaxCost)
}
