package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Engine   EngineConfig   `koanf:"engine"`
	Security SecurityConfig `koanf:"security"`

	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// EngineConfig carries the tunable fraud policy. Everything here has a
// production default; deployments override per environment.
type EngineConfig struct {
	RuleCacheTTL               time.Duration `koanf:"rule_cache_ttl"`
	EventRetention             time.Duration `koanf:"event_retention"`
	TrustedDeviceSkipsVelocity bool          `koanf:"trusted_device_skips_velocity"`
	ScoreConflictRetries       int           `koanf:"score_conflict_retries"`

	ScoreMidpoint  float64            `koanf:"score_midpoint"`
	ScoreSteepness float64            `koanf:"score_steepness"`
	LevelMedium    int                `koanf:"level_medium"`
	LevelHigh      int                `koanf:"level_high"`
	LevelCritical  int                `koanf:"level_critical"`
	Weights        map[string]float64 `koanf:"weights"`
}

type SecurityConfig struct {
	JWTSecret   string          `koanf:"jwt_secret"`
	TokenExpiry time.Duration   `koanf:"token_expiry"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRate   float64 `koanf:"sample_rate"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Engine: EngineConfig{
			RuleCacheTTL:               30 * time.Second,
			EventRetention:             30 * 24 * time.Hour,
			TrustedDeviceSkipsVelocity: true,
			ScoreConflictRetries:       3,
			ScoreMidpoint:              20,
			ScoreSteepness:             5,
			LevelMedium:                25,
			LevelHigh:                  50,
			LevelCritical:              75,
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Telemetry: TelemetryConfig{
			SampleRate: 0.1,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	if err := k.Load(env.Provider("FRAUD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FRAUD_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// RiskPolicy materializes the scoring policy from config, falling back to the
// built-in defaults for anything unset.
func (c *Config) RiskPolicy() risk.Policy {
	p := risk.DefaultPolicy()
	if c.Engine.ScoreMidpoint > 0 {
		p.ScoreMidpoint = c.Engine.ScoreMidpoint
	}
	if c.Engine.ScoreSteepness > 0 {
		p.ScoreSteepness = c.Engine.ScoreSteepness
	}
	if c.Engine.LevelMedium > 0 {
		p.Thresholds.Medium = c.Engine.LevelMedium
	}
	if c.Engine.LevelHigh > 0 {
		p.Thresholds.High = c.Engine.LevelHigh
	}
	if c.Engine.LevelCritical > 0 {
		p.Thresholds.Critical = c.Engine.LevelCritical
	}
	for name, w := range c.Engine.Weights {
		cat := rule.Category(name)
		if cat.Valid() && w > 0 {
			p.CategoryWeights[cat] = w
		}
	}
	return p
}
