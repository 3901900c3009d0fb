package config

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfig returns a fully-populated configuration suitable for local
// development: a single-directory engine instance under /var/lib/dedupv1.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any zero-valued fields of cfg with sensible defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyKVIndexDefaults(&cfg.KVIndex)
	applyOpLogDefaults(&cfg.OpLog, cfg.Storage.Dir)
	applyContainerDefaults(&cfg.Container)
	applyCacheDefaults(&cfg.Cache)
	applyMetricsDefaults(&cfg.Metrics)
	applyMonitorDefaults(&cfg.Monitor)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join("/var", "lib", "dedupv1")
	}
}

func applyKVIndexDefaults(cfg *KVIndexConfig) {
	if cfg.MetadataBackend == "" {
		cfg.MetadataBackend = "bolt"
	}
	if cfg.ChunkIndexBackend == "" {
		cfg.ChunkIndexBackend = "badger"
	}
	if cfg.BlockIndexBackend == "" {
		cfg.BlockIndexBackend = "badger"
	}
	if cfg.DirtyFraction == 0 {
		cfg.DirtyFraction = 0.25
	}
}

func applyOpLogDefaults(cfg *OpLogConfig, storageDir string) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(storageDir, "oplog.dat")
	}
	if cfg.InitialSize == 0 {
		cfg.InitialSize = 16 * 1024 * 1024
	}
}

func applyContainerDefaults(cfg *ContainerConfig) {
	if cfg.Size == 0 {
		cfg.Size = 4 * 1024 * 1024
	}
	if cfg.MetadataAreaSize == 0 {
		cfg.MetadataAreaSize = 4 * 1024
	}
	if cfg.Compression == "" {
		cfg.Compression = "zstd"
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.WriteCacheContainers == 0 {
		cfg.WriteCacheContainers = 4
	}
	if cfg.ReadCacheContainers == 0 {
		cfg.ReadCacheContainers = 64
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = 2 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9191
	}
}

func applyMonitorDefaults(cfg *MonitorConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9192"
	}
}
