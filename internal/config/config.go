// Package config loads chatflow settings. A YAML file overrides the
// defaults, CHATFLOW_* environment variables override the file, and
// command-line flags override both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/aretw0/chatflow/pkg/cooldown"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "chatflow.yaml"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Sessions SessionsConfig `yaml:"sessions"`
	Flows    FlowsConfig    `yaml:"flows"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Fallback FallbackConfig `yaml:"fallback"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type EngineConfig struct {
	MaxHops        int           `yaml:"max_hops" validate:"min=1"`
	HistoryLimit   int           `yaml:"history_limit" validate:"min=1"`
	CooldownWindow time.Duration `yaml:"cooldown_window" validate:"gte=0"`
	CooldownSweep  string        `yaml:"cooldown_sweep"`
	NoticeText     string        `yaml:"notice_text"`
}

type SessionsConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=memory file redis"`
	Dir             string        `yaml:"dir" validate:"required_if=Backend file"`
	IdleTTL         time.Duration `yaml:"idle_ttl" validate:"gte=0"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

type FlowsConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=memory file postgres"`
	Dir             string        `yaml:"dir" validate:"required_if=Backend file"`
	DatabaseURL     string        `yaml:"database_url" validate:"required_if=Backend postgres"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix"`
}

type AMQPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url" validate:"required_if=Enabled true"`
	Exchange     string `yaml:"exchange" validate:"required_if=Enabled true"`
	InboundQueue string `yaml:"inbound_queue" validate:"required_if=Enabled true"`
	Workers      int    `yaml:"workers" validate:"min=1"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// FallbackConfig points at the AI service answering unmatched text.
// An empty URL disables the fallback.
type FallbackConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			MaxHops:        50,
			HistoryLimit:   50,
			CooldownWindow: cooldown.DefaultWindow,
			CooldownSweep:  "@every 1m",
			NoticeText:     "Please choose one of the options below.",
		},
		Sessions: SessionsConfig{
			Backend:         BackendMemory,
			Dir:             ".chatflow/sessions",
			IdleTTL:         24 * time.Hour,
			JanitorSchedule: "@every 5m",
			LockTTL:         30 * time.Second,
		},
		Flows: FlowsConfig{
			Backend:         BackendFile,
			Dir:             ".chatflow/flows",
			RefreshInterval: 5 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "chatflow:"},
		AMQP: AMQPConfig{
			Exchange:     "chatflow",
			InboundQueue: "chatflow.inbound",
			Workers:      4,
		},
		Tracing:  TracingConfig{ServiceName: "chatflow"},
		Fallback: FallbackConfig{Timeout: 10 * time.Second},
	}
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// applies CHATFLOW_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = DefaultFile
	}
	raw, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := cfg.decodeYAML(raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == "":
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envKeys maps environment variables to their YAML path.
var envKeys = map[string]string{
	"CHATFLOW_HTTP_ADDR":                 "http.addr",
	"CHATFLOW_LOG_LEVEL":                 "log.level",
	"CHATFLOW_LOG_FORMAT":                "log.format",
	"CHATFLOW_ENGINE_MAX_HOPS":           "engine.max_hops",
	"CHATFLOW_ENGINE_HISTORY_LIMIT":      "engine.history_limit",
	"CHATFLOW_ENGINE_COOLDOWN_WINDOW":    "engine.cooldown_window",
	"CHATFLOW_ENGINE_COOLDOWN_SWEEP":     "engine.cooldown_sweep",
	"CHATFLOW_ENGINE_NOTICE_TEXT":        "engine.notice_text",
	"CHATFLOW_SESSIONS_BACKEND":          "sessions.backend",
	"CHATFLOW_SESSIONS_DIR":              "sessions.dir",
	"CHATFLOW_SESSIONS_IDLE_TTL":         "sessions.idle_ttl",
	"CHATFLOW_SESSIONS_JANITOR_SCHEDULE": "sessions.janitor_schedule",
	"CHATFLOW_SESSIONS_LOCK_TTL":         "sessions.lock_ttl",
	"CHATFLOW_FLOWS_BACKEND":             "flows.backend",
	"CHATFLOW_FLOWS_DIR":                 "flows.dir",
	"CHATFLOW_DATABASE_URL":              "flows.database_url",
	"CHATFLOW_FLOWS_REFRESH_INTERVAL":    "flows.refresh_interval",
	"CHATFLOW_REDIS_ADDR":                "redis.addr",
	"CHATFLOW_REDIS_PASSWORD":            "redis.password",
	"CHATFLOW_REDIS_DB":                  "redis.db",
	"CHATFLOW_REDIS_PREFIX":              "redis.prefix",
	"CHATFLOW_AMQP_ENABLED":              "amqp.enabled",
	"CHATFLOW_AMQP_URL":                  "amqp.url",
	"CHATFLOW_AMQP_EXCHANGE":             "amqp.exchange",
	"CHATFLOW_AMQP_INBOUND_QUEUE":        "amqp.inbound_queue",
	"CHATFLOW_AMQP_WORKERS":              "amqp.workers",
	"CHATFLOW_TRACING_ENABLED":           "tracing.enabled",
	"CHATFLOW_TRACING_SERVICE_NAME":      "tracing.service_name",
	"CHATFLOW_FALLBACK_URL":              "fallback.url",
	"CHATFLOW_FALLBACK_TIMEOUT":          "fallback.timeout",
}

// ApplyEnv overrides fields from the environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	overrides := map[string]any{}
	for env, path := range envKeys {
		v, ok := lookup(env)
		if !ok {
			continue
		}
		section, key, _ := strings.Cut(path, ".")
		m, _ := overrides[section].(map[string]any)
		if m == nil {
			m = map[string]any{}
			overrides[section] = m
		}
		m[key] = v
	}
	if len(overrides) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           c,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sessions.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("invalid configuration: redis.addr is required for the redis session backend")
	}
	if c.Sessions.IdleTTL > 0 && c.Sessions.JanitorSchedule == "" {
		return fmt.Errorf("invalid configuration: sessions.janitor_schedule is required when sessions.idle_ttl is set")
	}
	return nil
}
