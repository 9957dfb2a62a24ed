package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = "server.crt"
	cfg.TLS.KeyFile = "server.key"
	cfg.TLS.ClientCAFile = "ca.crt"
	cfg.Throttling.Enabled = true
	cfg.Redis.Enabled = true
	cfg.NATS.Enabled = true
	cfg.Archive.Enabled = true
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestDefaultConfig_PausesFollowPriority(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Queues.Pause.Low != time.Second {
		t.Errorf("expected low pause 1s, got %v", cfg.Queues.Pause.Low)
	}
	if cfg.Queues.Pause.Medium != 600*time.Millisecond {
		t.Errorf("expected medium pause 600ms, got %v", cfg.Queues.Pause.Medium)
	}
	if cfg.Queues.Pause.High != 200*time.Millisecond {
		t.Errorf("expected high pause 200ms, got %v", cfg.Queues.Pause.High)
	}
	if cfg.Queues.BackpressureMode != BackpressurePerConnection {
		t.Errorf("expected per-connection backpressure by default, got %q", cfg.Queues.BackpressureMode)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "admin secret required when admin enabled",
			mutate: func(c *Config) {
				c.Admin.Address = ":7080"
				c.Admin.JWTSecret = ""
			},
		},
		{
			name: "short admin secret rejected",
			mutate: func(c *Config) {
				c.Admin.Address = ":7080"
				c.Admin.JWTSecret = "change-me-in-production"
			},
		},
		{
			name: "tls address required when tls enabled",
			mutate: func(c *Config) {
				c.Server.TLSAddress = ""
			},
		},
		{
			name: "client ca required for mutual tls",
			mutate: func(c *Config) {
				c.TLS.ClientCAFile = ""
			},
		},
		{
			name: "supported versions must not be empty",
			mutate: func(c *Config) {
				c.Protocol.SupportedVersions = nil
			},
		},
		{
			name: "max payload must be > 0",
			mutate: func(c *Config) {
				c.Protocol.MaxPayloadBytes = 0
			},
		},
		{
			name: "heartbeat timeout must be > 0",
			mutate: func(c *Config) {
				c.Heartbeat.Timeout = 0
			},
		},
		{
			name: "queue depth must be > 0",
			mutate: func(c *Config) {
				c.Queues.MaxDepth = 0
			},
		},
		{
			name: "warning ratio must be <= 1",
			mutate: func(c *Config) {
				c.Queues.WarningRatio = 1.5
			},
		},
		{
			name: "unknown backpressure mode",
			mutate: func(c *Config) {
				c.Queues.BackpressureMode = "sometimes"
			},
		},
		{
			name: "throttling burst must be > 0",
			mutate: func(c *Config) {
				c.Throttling.Burst = 0
			},
		},
		{
			name: "redis presence ttl must be > 0",
			mutate: func(c *Config) {
				c.Redis.PresenceTTL = 0
			},
		},
		{
			name: "nats subject required",
			mutate: func(c *Config) {
				c.NATS.NoticeSubject = ""
			},
		},
		{
			name: "archive directory required when enabled",
			mutate: func(c *Config) {
				c.Archive.Directory = ""
			},
		},
		{
			name: "event batch size must be >= 0",
			mutate: func(c *Config) {
				c.Redis.EventBatchSize = -1
			},
		},
		{
			name: "log level must be known",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("base config must be valid, got: %v", err)
			}
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.PlainAddress != DefaultConfig().Server.PlainAddress {
		t.Errorf("expected default plain address, got %q", cfg.Server.PlainAddress)
	}
}

func TestDefaultConfig_AdminDisabled(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Admin.Address != "" || cfg.Admin.JWTSecret != "" {
		t.Fatalf("expected admin API off by default, got address %q", cfg.Admin.Address)
	}
}

func TestLoad_AdminSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
admin:
  address: ":7080"
  jwt_secret: "change-me-in-production"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a weak admin secret")
	}

	secret := strings.Repeat("s", MinJWTSecretLength)
	t.Setenv("DUALGATE_ADMIN_JWT_SECRET", secret)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Admin.JWTSecret != secret {
		t.Errorf("expected env override for admin secret")
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  plain_address: ":9100"
protocol:
  supported_versions: [1, 2]
queues:
  max_depth: 64
  backpressure_mode: global
heartbeat:
  timeout: 45s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DUALGATE_QUEUE_MAX_DEPTH", "32")
	t.Setenv("DUALGATE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.PlainAddress != ":9100" {
		t.Errorf("expected plain address from yaml, got %q", cfg.Server.PlainAddress)
	}
	if len(cfg.Protocol.SupportedVersions) != 2 {
		t.Errorf("expected two supported versions, got %v", cfg.Protocol.SupportedVersions)
	}
	if cfg.Queues.MaxDepth != 32 {
		t.Errorf("expected env override for max depth, got %d", cfg.Queues.MaxDepth)
	}
	if cfg.Queues.BackpressureMode != BackpressureGlobal {
		t.Errorf("expected global mode from yaml, got %q", cfg.Queues.BackpressureMode)
	}
	if cfg.Heartbeat.Timeout != 45*time.Second {
		t.Errorf("expected heartbeat timeout 45s, got %v", cfg.Heartbeat.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override for log level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
