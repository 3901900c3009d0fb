// Package config loads and validates the engine's static configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (DEDUPV1_*), for keys present in the loaded file
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flags are bound to configuration keys. When no configuration file
// is found, Load returns the defaults without consulting the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	KVIndex   KVIndexConfig   `mapstructure:"kvindex" yaml:"kvindex"`
	OpLog     OpLogConfig     `mapstructure:"oplog" yaml:"oplog"`
	Container ContainerConfig `mapstructure:"container" yaml:"container"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig names the on-disk locations owned by this engine instance.
type StorageConfig struct {
	// Dir is the root directory holding container files, the super-block,
	// and all index backends that are disk-resident.
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`
}

// KVIndexConfig selects backends for the engine's key-value indexes.
type KVIndexConfig struct {
	// MetadataBackend backs the container metadata index (container id ->
	// address). One of: memory, bolt, badger.
	MetadataBackend string `mapstructure:"metadata_backend" validate:"required,oneof=memory bolt badger" yaml:"metadata_backend"`

	// ChunkIndexBackend backs the fingerprint -> location map. One of:
	// memory, badger.
	ChunkIndexBackend string `mapstructure:"chunk_index_backend" validate:"required,oneof=memory badger" yaml:"chunk_index_backend"`

	// BlockIndexBackend backs the persistent block mapping index. One of:
	// memory, badger.
	BlockIndexBackend string `mapstructure:"block_index_backend" validate:"required,oneof=memory badger" yaml:"block_index_backend"`

	// DirtyFraction is loaded, defaulted and validated, but no index backend
	// reads it and no background flush is triggered from it.
	DirtyFraction float64 `mapstructure:"dirty_fraction" validate:"gt=0,lte=1" yaml:"dirty_fraction"`
}

// OpLogConfig configures the operation log (write-ahead log).
type OpLogConfig struct {
	// Path is the operation log's backing file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// InitialSize is the file size allocated on first creation, doubled on
	// each subsequent growth.
	InitialSize int64 `mapstructure:"initial_size" validate:"gt=0" yaml:"initial_size"`

	// SyncEveryAppend is loaded and saved with the configuration but is not
	// read by the engine: oplog.Append always issues an asynchronous msync
	// (MS_ASYNC) after each entry, whatever its value.
	SyncEveryAppend bool `mapstructure:"sync_every_append" yaml:"sync_every_append"`
}

// ContainerConfig configures container geometry.
type ContainerConfig struct {
	// Size is a fixed container file size in bytes. Default 4 MiB.
	Size uint32 `mapstructure:"size" validate:"gt=0" yaml:"size"`

	// MetadataAreaSize is reserved at the start of every container. Default 4 KiB.
	MetadataAreaSize uint32 `mapstructure:"metadata_area_size" validate:"gt=0" yaml:"metadata_area_size"`

	// Compression selects the item compression codec. One of: none, zstd.
	Compression string `mapstructure:"compression" validate:"oneof=none zstd" yaml:"compression"`
}

// CacheConfig configures the container store's write and read caches.
type CacheConfig struct {
	// WriteCacheContainers is the number of write-cache slots, each holding
	// one open container; writes are spread round-robin across the slots.
	WriteCacheContainers int `mapstructure:"write_cache_containers" validate:"gt=0" yaml:"write_cache_containers"`

	// ReadCacheContainers is the LRU capacity, in whole containers, of the
	// read cache.
	ReadCacheContainers int `mapstructure:"read_cache_containers" validate:"gt=0" yaml:"read_cache_containers"`

	// CommitTimeout is the maximum time an open container may sit idle
	// before the background committer seals it early.
	CommitTimeout time.Duration `mapstructure:"commit_timeout" validate:"gt=0" yaml:"commit_timeout"`
}

// MetricsConfig is loaded, defaulted and validated, but neither field is
// read by cmd/dedupv1d or pkg/bootstrap: no separate metrics server is
// started, and Prometheus metrics are served on the monitor's /metrics route.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MonitorConfig configures the chi-routed HTTP monitor endpoints.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := DefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-actionable error when the
// requested file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate runs struct-tag validation via go-playground/validator.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DEDUPV1")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dedupv1")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dedupv1")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
