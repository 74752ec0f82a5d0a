package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete boot-time configuration for a bmqsimd instance.
type Config struct {
	Sim       SimConfig       `yaml:"sim"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Trace     TraceConfig     `yaml:"trace"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SimConfig controls the simulated host the scheduler runs on.
type SimConfig struct {
	NCPU        int           `yaml:"ncpu"`
	TickHz      int           `yaml:"tick_hz"`
	SMTPerCore  int           `yaml:"smt_per_core"`
	CoresPerLLC int           `yaml:"cores_per_llc"`
	LLCsPerDie  int           `yaml:"llcs_per_die"`
	TickPace    time.Duration `yaml:"tick_pace"`
}

// SchedulerConfig mirrors the §6 compile/boot-time tunables.
type SchedulerConfig struct {
	TimesliceNS  int64  `yaml:"timeslice_ns"`
	ReschedNS    int64  `yaml:"resched_ns"`
	MaxAdj       int    `yaml:"max_adj"`
	YieldType    int    `yaml:"yield_type"`
	MigrationCap int    `yaml:"migration_cap"`
}

// APIConfig holds the introspection HTTP/WS server configuration.
type APIConfig struct {
	Listen    string     `yaml:"listen"`
	Cors      CorsConfig `yaml:"cors"`
	JWTSecret string     `yaml:"jwt_secret"`
}

// CorsConfig configures the introspection API's cross-origin policy.
type CorsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TraceConfig configures scheduling-event export (§SPEC_FULL 10.4).
type TraceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisTopic string `yaml:"redis_topic"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration a fresh bmqsimd instance boots
// with absent any file or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Sim: SimConfig{
			NCPU:        8,
			TickHz:      1000,
			SMTPerCore:  2,
			CoresPerLLC: 4,
			LLCsPerDie:  1,
			TickPace:    time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			TimesliceNS:  4_000_000,
			ReschedNS:    100_000,
			MaxAdj:       12,
			YieldType:    1,
			MigrationCap: 32,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7777",
			Cors: CorsConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
			},
		},
		Trace: TraceConfig{
			Enabled:    true,
			RedisTopic: "bmqsched.trace",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9477",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from configFile (if non-empty), overlaying
// environment variables prefixed BMQSIM_, onto DefaultConfig.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("bmqsimd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.bmqsimd")
		v.AddConfigPath("/etc/bmqsimd")
	}

	v.SetEnvPrefix("BMQSIM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants the scheduler construction path relies on.
func (c *Config) Validate() error {
	if c.Sim.NCPU <= 0 {
		return fmt.Errorf("sim.ncpu must be positive, got %d", c.Sim.NCPU)
	}
	if c.Sim.TickHz <= 0 {
		return fmt.Errorf("sim.tick_hz must be positive, got %d", c.Sim.TickHz)
	}
	if c.Scheduler.TimesliceNS <= 0 {
		return fmt.Errorf("scheduler.timeslice_ns must be positive")
	}
	if c.Scheduler.ReschedNS <= 0 || c.Scheduler.ReschedNS >= c.Scheduler.TimesliceNS {
		return fmt.Errorf("scheduler.resched_ns must be positive and less than timeslice_ns")
	}
	if c.Scheduler.MaxAdj <= 0 {
		return fmt.Errorf("scheduler.max_adj must be positive")
	}
	if c.Scheduler.YieldType < 0 || c.Scheduler.YieldType > 2 {
		return fmt.Errorf("scheduler.yield_type must be 0, 1 or 2, got %d", c.Scheduler.YieldType)
	}
	return nil
}

// Save writes the configuration to filename in YAML form.
func (c *Config) Save(filename string) error {
	v := viper.New()
	v.Set("sim", c.Sim)
	v.Set("scheduler", c.Scheduler)
	v.Set("api", c.API)
	v.Set("trace", c.Trace)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)
	return v.WriteConfigAs(filename)
}
