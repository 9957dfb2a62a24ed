package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is prepended to every environment override, e.g. DUALGATE_PLAIN_ADDRESS.
const EnvPrefix = "DUALGATE_"

const (
	BackpressureGlobal        = "global"
	BackpressurePerConnection = "per_connection"
)

type Config struct {
	Server struct {
		PlainAddress     string        `yaml:"plain_address" env:"PLAIN_ADDRESS"`
		TLSAddress       string        `yaml:"tls_address" env:"TLS_ADDRESS"`
		AcceptBacklog    int           `yaml:"accept_backlog" env:"ACCEPT_BACKLOG"`
		AcceptRetryDelay time.Duration `yaml:"accept_retry_delay" env:"ACCEPT_RETRY_DELAY"`
		ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	TLS struct {
		Enabled          bool          `yaml:"enabled" env:"TLS_ENABLED"`
		CertFile         string        `yaml:"cert_file" env:"TLS_CERT_FILE"`
		KeyFile          string        `yaml:"key_file" env:"TLS_KEY_FILE"`
		ClientCAFile     string        `yaml:"client_ca_file" env:"TLS_CLIENT_CA_FILE"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"TLS_HANDSHAKE_TIMEOUT"`
	} `yaml:"tls"`

	Protocol struct {
		SupportedVersions []uint32 `yaml:"supported_versions" env:"SUPPORTED_VERSIONS"`
		MaxPayloadBytes   uint32   `yaml:"max_payload_bytes" env:"MAX_PAYLOAD_BYTES"`
	} `yaml:"protocol"`

	Heartbeat struct {
		Interval time.Duration `yaml:"interval" env:"HEARTBEAT_INTERVAL"`
		Timeout  time.Duration `yaml:"timeout" env:"HEARTBEAT_TIMEOUT"`
	} `yaml:"heartbeat"`

	Queues struct {
		MaxDepth         int     `yaml:"max_depth" env:"QUEUE_MAX_DEPTH"`
		WarningRatio     float64 `yaml:"warning_ratio" env:"QUEUE_WARNING_RATIO"`
		BackpressureMode string  `yaml:"backpressure_mode" env:"BACKPRESSURE_MODE"`
		Pause            struct {
			Low    time.Duration `yaml:"low" env:"PAUSE_LOW"`
			Medium time.Duration `yaml:"medium" env:"PAUSE_MEDIUM"`
			High   time.Duration `yaml:"high" env:"PAUSE_HIGH"`
		} `yaml:"pause"`
	} `yaml:"queues"`

	Relay struct {
		RealtimeTransferAllowed bool          `yaml:"realtime_transfer_allowed" env:"REALTIME_TRANSFER_ALLOWED"`
		HandoffTimeout          time.Duration `yaml:"handoff_timeout" env:"RELAY_HANDOFF_TIMEOUT"`
		BufferSize              int           `yaml:"buffer_size" env:"RELAY_BUFFER_SIZE"`
	} `yaml:"relay"`

	Throttling struct {
		Enabled         bool    `yaml:"enabled" env:"THROTTLING_ENABLED"`
		FramesPerSecond float64 `yaml:"frames_per_second" env:"THROTTLING_FRAMES_PER_SECOND"`
		Burst           int     `yaml:"burst" env:"THROTTLING_BURST"`
	} `yaml:"throttling"`

	Admin struct {
		Address           string  `yaml:"address" env:"ADMIN_ADDRESS"`
		JWTSecret         string  `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
		RequestsPerSecond float64 `yaml:"requests_per_second" env:"ADMIN_REQUESTS_PER_SECOND"`
		Burst             int     `yaml:"burst" env:"ADMIN_BURST"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled" env:"PROMETHEUS_ENABLED"`
		MetricsInterval   time.Duration `yaml:"metrics_interval" env:"METRICS_INTERVAL"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`

	Redis struct {
		Enabled     bool          `yaml:"enabled" env:"REDIS_ENABLED"`
		Address     string        `yaml:"address" env:"REDIS_ADDRESS"`
		Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB          int           `yaml:"db" env:"REDIS_DB"`
		PoolSize    int           `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
		PresenceTTL time.Duration `yaml:"presence_ttl" env:"REDIS_PRESENCE_TTL"`

		// LookupCacheTTL caches presence lookups for relay targets; 0 disables it.
		LookupCacheTTL     time.Duration `yaml:"lookup_cache_ttl" env:"REDIS_LOOKUP_CACHE_TTL"`
		EventBatchSize     int           `yaml:"event_batch_size" env:"REDIS_EVENT_BATCH_SIZE"`
		EventBatchInterval time.Duration `yaml:"event_batch_interval" env:"REDIS_EVENT_BATCH_INTERVAL"`
	} `yaml:"redis"`

	NATS struct {
		Enabled              bool   `yaml:"enabled" env:"NATS_ENABLED"`
		URL                  string `yaml:"url" env:"NATS_URL"`
		NoticeSubject        string `yaml:"notice_subject" env:"NATS_NOTICE_SUBJECT"`
		InboundSubjectPrefix string `yaml:"inbound_subject_prefix" env:"NATS_INBOUND_SUBJECT_PREFIX"`
	} `yaml:"nats"`

	Archive struct {
		Enabled   bool          `yaml:"enabled" env:"ARCHIVE_ENABLED"`
		Directory string        `yaml:"directory" env:"ARCHIVE_DIRECTORY"`
		Interval  time.Duration `yaml:"interval" env:"ARCHIVE_INTERVAL"`
		Retention time.Duration `yaml:"retention" env:"ARCHIVE_RETENTION"`
	} `yaml:"archive"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled" env:"TRACING_ENABLED"`
		ServiceName string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
		JaegerURL   string  `yaml:"jaeger_url" env:"TRACING_JAEGER_URL"`
		Environment string  `yaml:"environment" env:"TRACING_ENVIRONMENT"`
		SampleRate  float64 `yaml:"sample_rate" env:"TRACING_SAMPLE_RATE"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.PlainAddress == "" && !c.TLS.Enabled {
		return fmt.Errorf("server.plain_address must not be empty when tls is disabled")
	}
	if c.TLS.Enabled && c.Server.TLSAddress == "" {
		return fmt.Errorf("server.tls_address must not be empty when tls.enabled=true")
	}
	if c.Server.AcceptBacklog <= 0 {
		return fmt.Errorf("server.accept_backlog must be > 0")
	}
	if c.Server.AcceptRetryDelay <= 0 {
		return fmt.Errorf("server.accept_retry_delay must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// TLS
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file must be set when tls.enabled=true")
		}
		if c.TLS.ClientCAFile == "" {
			return fmt.Errorf("tls.client_ca_file must be set when tls.enabled=true")
		}
		if c.TLS.HandshakeTimeout <= 0 {
			return fmt.Errorf("tls.handshake_timeout must be > 0")
		}
	}

	// Protocol
	if len(c.Protocol.SupportedVersions) == 0 {
		return fmt.Errorf("protocol.supported_versions must not be empty")
	}
	if c.Protocol.MaxPayloadBytes == 0 {
		return fmt.Errorf("protocol.max_payload_bytes must be > 0")
	}

	// Heartbeat
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be > 0")
	}
	if c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be > 0")
	}

	// Queues
	if c.Queues.MaxDepth <= 0 {
		return fmt.Errorf("queues.max_depth must be > 0")
	}
	if c.Queues.WarningRatio <= 0 || c.Queues.WarningRatio > 1 {
		return fmt.Errorf("queues.warning_ratio must be in (0, 1]")
	}
	switch c.Queues.BackpressureMode {
	case BackpressureGlobal, BackpressurePerConnection:
	default:
		return fmt.Errorf("queues.backpressure_mode must be %q or %q (got %q)",
			BackpressureGlobal, BackpressurePerConnection, c.Queues.BackpressureMode)
	}
	if c.Queues.Pause.Low <= 0 || c.Queues.Pause.Medium <= 0 || c.Queues.Pause.High <= 0 {
		return fmt.Errorf("queues.pause durations must be > 0")
	}

	// Relay
	if c.Relay.HandoffTimeout <= 0 {
		return fmt.Errorf("relay.handoff_timeout must be > 0")
	}
	if c.Relay.BufferSize <= 0 {
		return fmt.Errorf("relay.buffer_size must be > 0")
	}

	// Throttling
	if c.Throttling.Enabled {
		if c.Throttling.FramesPerSecond <= 0 {
			return fmt.Errorf("throttling.frames_per_second must be > 0 when throttling is enabled")
		}
		if c.Throttling.Burst <= 0 {
			return fmt.Errorf("throttling.burst must be > 0 when throttling is enabled")
		}
	}

	// Admin
	if c.Admin.Address != "" {
		if len(c.Admin.JWTSecret) < MinJWTSecretLength {
			return fmt.Errorf("admin.jwt_secret must be at least %d bytes when admin.address is set", MinJWTSecretLength)
		}
		if c.Admin.RequestsPerSecond < 0 || c.Admin.Burst < 0 {
			return fmt.Errorf("admin.requests_per_second and admin.burst must be >= 0")
		}
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console (got: %s)", c.Logging.Format)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.PresenceTTL <= 0 {
			return fmt.Errorf("redis.presence_ttl must be > 0 when redis.enabled=true")
		}
		if c.Redis.LookupCacheTTL < 0 {
			return fmt.Errorf("redis.lookup_cache_ttl must be >= 0")
		}
		if c.Redis.EventBatchSize < 0 || c.Redis.EventBatchInterval < 0 {
			return fmt.Errorf("redis.event_batch_size and redis.event_batch_interval must be >= 0")
		}
	}

	// NATS
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url must not be empty when nats.enabled=true")
		}
		if c.NATS.NoticeSubject == "" {
			return fmt.Errorf("nats.notice_subject must not be empty when nats.enabled=true")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Directory == "" {
			return fmt.Errorf("archive.directory must not be empty when archive.enabled=true")
		}
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("archive.interval must be > 0 when archive.enabled=true")
		}
		if c.Archive.Retention < 0 {
			return fmt.Errorf("archive.retention must be >= 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// MinJWTSecretLength is the shortest HS256 key the admin API accepts.
const MinJWTSecretLength = 32

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.PlainAddress = ":7000"
	cfg.Server.TLSAddress = ":7443"
	cfg.Server.AcceptBacklog = 128
	cfg.Server.AcceptRetryDelay = 100 * time.Millisecond
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.TLS.Enabled = false
	cfg.TLS.HandshakeTimeout = 10 * time.Second

	cfg.Protocol.SupportedVersions = []uint32{1}
	cfg.Protocol.MaxPayloadBytes = 16 * 1024 * 1024

	cfg.Heartbeat.Interval = 5 * time.Second
	cfg.Heartbeat.Timeout = 30 * time.Second

	cfg.Queues.MaxDepth = 1000
	cfg.Queues.WarningRatio = 0.9
	cfg.Queues.BackpressureMode = BackpressurePerConnection
	cfg.Queues.Pause.Low = 1000 * time.Millisecond
	cfg.Queues.Pause.Medium = 600 * time.Millisecond
	cfg.Queues.Pause.High = 200 * time.Millisecond

	cfg.Relay.RealtimeTransferAllowed = true
	cfg.Relay.HandoffTimeout = 2 * time.Second
	cfg.Relay.BufferSize = 32 * 1024

	cfg.Throttling.Enabled = false
	cfg.Throttling.FramesPerSecond = 500
	cfg.Throttling.Burst = 1000

	// the admin API stays off until an address and a real secret are configured
	cfg.Admin.Address = ""
	cfg.Admin.JWTSecret = ""
	cfg.Admin.RequestsPerSecond = 20
	cfg.Admin.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.PresenceTTL = 2 * time.Minute
	cfg.Redis.LookupCacheTTL = 2 * time.Second
	cfg.Redis.EventBatchSize = 64
	cfg.Redis.EventBatchInterval = 100 * time.Millisecond

	cfg.NATS.Enabled = false
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.NoticeSubject = "dualgate.notice"
	cfg.NATS.InboundSubjectPrefix = "dualgate.inbound"

	cfg.Archive.Enabled = false
	cfg.Archive.Directory = "data/history"
	cfg.Archive.Interval = 10 * time.Minute
	cfg.Archive.Retention = 7 * 24 * time.Hour

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "dualgate"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

// applyEnvOverrides loads an optional .env file and then environment variables.
// Priority: ENV vars > .env file > YAML > defaults.
func (c *Config) applyEnvOverrides() error {
	// .env is a development convenience; a missing file is fine.
	_ = godotenv.Load()

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}
