package configkeys

const (
	delimiter = "."

	ConfigPrefix = "config"

	ConfigEffectPrefix = ConfigPrefix + delimiter + "effect"

	ConfigEffectRuntimePrefix         = ConfigEffectPrefix + delimiter + "runtime"
	ConfigEffectRuntimeCleanupTimeout = ConfigEffectRuntimePrefix + delimiter + "cleanup_timeout"

	ConfigEffectStatePrefix = ConfigEffectPrefix + delimiter + "state"

	ConfigEffectStateHandlerPrefix     = ConfigEffectStatePrefix + delimiter + "handler"
	ConfigEffectStateHandlerBufferSize = ConfigEffectStateHandlerPrefix + delimiter + "buffer_size"
	ConfigEffectStateHandlerNumWorkers = ConfigEffectStateHandlerPrefix + delimiter + "num_workers"

	ConfigEffectParallelPrefix = ConfigEffectPrefix + delimiter + "parallel"
	ConfigEffectParallelLimit  = ConfigEffectParallelPrefix + delimiter + "limit"

	ConfigEffectMemoPrefix      = ConfigEffectPrefix + delimiter + "memo"
	ConfigEffectMemoNumCounters = ConfigEffectMemoPrefix + delimiter + "num_counters"
	ConfigEffectMemoMaxCost     = ConfigEffectMemoPrefix + delimiter + "max_cost"
	ConfigEffectMemoTTL         = ConfigEffectMemoPrefix + delimiter + "ttl"
)
