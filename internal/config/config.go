package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/audioforge/orchestrator/internal/model"
)

// PoolConfig sizes the shared resource pool and its reservation timeouts
type PoolConfig struct {
	MaxMemoryMB        float64       `mapstructure:"max_memory_mb"`
	MaxCPU             float64       `mapstructure:"max_cpu"`
	MaxTokensPerSecond float64       `mapstructure:"max_tokens_per_second"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	MinTimeout         time.Duration `mapstructure:"min_timeout"`
	MaxTimeout         time.Duration `mapstructure:"max_timeout"`
}

// DegradationConfig holds the monitor thresholds
type DegradationConfig struct {
	MonitoringInterval time.Duration `mapstructure:"monitoring_interval"`
	MemoryThreshold    float64       `mapstructure:"memory_threshold"`
	CriticalThreshold  float64       `mapstructure:"critical_threshold"`
}

// ScorerConfig holds the capability scorer tuning knobs
type ScorerConfig struct {
	TimeWindow    time.Duration `mapstructure:"time_window"`
	MinSamples    int           `mapstructure:"min_samples"`
	DecayFactor   float64       `mapstructure:"decay_factor"`
	WeightSuccess float64       `mapstructure:"weight_success_rate"`
	WeightLatency float64       `mapstructure:"weight_latency"`
	WeightUsage   float64       `mapstructure:"weight_resource_usage"`
}

// ModelConfig describes one registered model worker
type ModelConfig struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	MemoryMB     int64    `mapstructure:"memory_mb"`
	Capabilities []string `mapstructure:"capabilities"`
	Script       string   `mapstructure:"script"`
}

// NATSConfig holds the optional event-stream connection settings
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// BackendConfig selects and parameterizes the model backend
type BackendConfig struct {
	Python    string        `mapstructure:"python"`
	ScriptDir string        `mapstructure:"script_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Config is the full configuration surface. All defaults are
// overridable from the YAML file or environment.
type Config struct {
	AppName       string            `mapstructure:"app_name"`
	MemoryLimitMB int64             `mapstructure:"memory_limit_mb"`
	Pool          PoolConfig        `mapstructure:"pool"`
	Degradation   DegradationConfig `mapstructure:"degradation"`
	Scorer        ScorerConfig      `mapstructure:"scorer"`
	NATS          NATSConfig        `mapstructure:"nats"`
	Backend       BackendConfig     `mapstructure:"backend"`
	HistoryDBPath string            `mapstructure:"history_db_path"`
	Models        []ModelConfig     `mapstructure:"models"`
}

// setDefaults registers every default on the viper instance
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "orchestrator")
	v.SetDefault("memory_limit_mb", 16384)

	v.SetDefault("pool.max_memory_mb", 8192)
	v.SetDefault("pool.max_cpu", 0.9)
	v.SetDefault("pool.max_tokens_per_second", 1000)
	v.SetDefault("pool.default_timeout", 30*time.Second)
	v.SetDefault("pool.min_timeout", 5*time.Second)
	v.SetDefault("pool.max_timeout", 2*time.Minute)

	v.SetDefault("degradation.monitoring_interval", time.Second)
	v.SetDefault("degradation.memory_threshold", 70.0)
	v.SetDefault("degradation.critical_threshold", 90.0)

	v.SetDefault("scorer.time_window", 7*24*time.Hour)
	v.SetDefault("scorer.min_samples", 5)
	v.SetDefault("scorer.decay_factor", 0.95)
	v.SetDefault("scorer.weight_success_rate", 0.5)
	v.SetDefault("scorer.weight_latency", 0.3)
	v.SetDefault("scorer.weight_resource_usage", 0.2)

	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("backend.python", "python3")
	v.SetDefault("backend.script_dir", "./scripts")
	v.SetDefault("backend.timeout", 5*time.Minute)

	v.SetDefault("history_db_path", "performance_history.db")
}

// Default returns the built-in defaults without reading any file
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration file at path, layered over defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Registry converts the configured models into domain descriptors
func (c *Config) Registry() []model.ModelType {
	registry := make([]model.ModelType, 0, len(c.Models))
	for _, mc := range c.Models {
		caps := make([]model.Capability, 0, len(mc.Capabilities))
		for _, s := range mc.Capabilities {
			caps = append(caps, model.Capability(s))
		}
		registry = append(registry, model.ModelType{
			ID:                mc.ID,
			Name:              mc.Name,
			MemoryRequirement: mc.MemoryMB * 1024 * 1024,
			Capabilities:      caps,
		})
	}
	return registry
}

// Scripts maps model ids to their worker script file names
func (c *Config) Scripts() map[string]string {
	scripts := make(map[string]string, len(c.Models))
	for _, mc := range c.Models {
		if mc.Script != "" {
			scripts[mc.ID] = mc.Script
		}
	}
	return scripts
}
