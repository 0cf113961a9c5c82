// Package config loads runtime settings for effect stacks.
//
// Settings come from viper, so they may be supplied through defaults, a config
// file or EFFECT_STACK_* environment variables:
//
//	v := viper.New()
//	v.SetConfigFile("effects.yaml")
//	_ = v.ReadInConfig()
//	cfg, err := config.Load(v)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/on-the-ground/effect_stack/effects/configkeys"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "EFFECT_STACK"

const (
	DefaultCleanupTimeout  = 5 * time.Second
	DefaultStateBufferSize = 16
	DefaultStateNumWorkers = 4
	DefaultMemoNumCounters = 10_000
	DefaultMemoMaxCost     = 1 << 20
	DefaultParallelLimit   = 0
)

// Runtime holds the tunables of a Stack and of the built-in handlers.
type Runtime struct {
	// CleanupTimeout bounds the cleanup sequence of one controller.
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
	State          State         `mapstructure:"state"`
	Parallel       Parallel      `mapstructure:"parallel"`
	Memo           Memo          `mapstructure:"memo"`
}

type State struct {
	BufferSize int `mapstructure:"buffer_size"`
	NumWorkers int `mapstructure:"num_workers"`
}

type Parallel struct {
	// Limit caps concurrently running map branches; zero or less means no limit.
	Limit int `mapstructure:"limit"`
}

type Memo struct {
	NumCounters int64 `mapstructure:"num_counters"`
	MaxCost     int64 `mapstructure:"max_cost"`

	// TTL expires memoized results; zero keeps them until evicted.
	TTL time.Duration `mapstructure:"ttl"`
}

// Default returns the settings used when nothing is configured.
func Default() Runtime {
	return Runtime{
		CleanupTimeout: DefaultCleanupTimeout,
		State: State{
			BufferSize: DefaultStateBufferSize,
			NumWorkers: DefaultStateNumWorkers,
		},
		Parallel: Parallel{Limit: DefaultParallelLimit},
		Memo: Memo{
			NumCounters: DefaultMemoNumCounters,
			MaxCost:     DefaultMemoMaxCost,
		},
	}
}

// Normalize replaces unusable values with defaults.
func (r Runtime) Normalize() Runtime {
	def := Default()
	if r.CleanupTimeout <= 0 {
		r.CleanupTimeout = def.CleanupTimeout
	}
	if r.State.BufferSize <= 0 {
		r.State.BufferSize = def.State.BufferSize
	}
	if r.State.NumWorkers <= 0 {
		r.State.NumWorkers = def.State.NumWorkers
	}
	if r.Memo.NumCounters <= 0 {
		r.Memo.NumCounters = def.Memo.NumCounters
	}
	if r.Memo.MaxCost <= 0 {
		r.Memo.MaxCost = def.Memo.MaxCost
	}
	return r
}

type document struct {
	Config struct {
		Effect struct {
			Runtime struct {
				CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
			} `mapstructure:"runtime"`
			State struct {
				Handler State `mapstructure:"handler"`
			} `mapstructure:"state"`
			Parallel Parallel `mapstructure:"parallel"`
			Memo     Memo     `mapstructure:"memo"`
		} `mapstructure:"effect"`
	} `mapstructure:"config"`
}

// Load reads the effect settings from v. Defaults are registered on v first,
// so only the keys a caller cares about need to be present.
func Load(v *viper.Viper) (Runtime, error) {
	def := Default()
	v.SetDefault(configkeys.ConfigEffectRuntimeCleanupTimeout, def.CleanupTimeout)
	v.SetDefault(configkeys.ConfigEffectStateHandlerBufferSize, def.State.BufferSize)
	v.SetDefault(configkeys.ConfigEffectStateHandlerNumWorkers, def.State.NumWorkers)
	v.SetDefault(configkeys.ConfigEffectParallelLimit, def.Parallel.Limit)
	v.SetDefault(configkeys.ConfigEffectMemoNumCounters, def.Memo.NumCounters)
	v.SetDefault(configkeys.ConfigEffectMemoMaxCost, def.Memo.MaxCost)
	v.SetDefault(configkeys.ConfigEffectMemoTTL, def.Memo.TTL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var doc document
	if err := v.Unmarshal(&doc, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Runtime{}, fmt.Errorf("failed to decode effect config: %w", err)
	}

	effect := doc.Config.Effect
	return Runtime{
		CleanupTimeout: effect.Runtime.CleanupTimeout,
		State:          effect.State.Handler,
		Parallel:       effect.Parallel,
		Memo:           effect.Memo,
	}.Normalize(), nil
}
