package config

import (
	"testing"
	"time"
)

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "LOOPED_DATABASE_URL", want: "database.url"},
		{in: "LOOPED_JWT_SECRET", want: "jwt.secret"},
		{in: "LOOPED_SERVER_READ_TIMEOUT", want: "server.read_timeout"},
		{in: "LOOPED_SPOTIFY_CLIENT_ID", want: "spotify.client_id"},
		{in: "LOOPED_SCHEDULER_INTERVAL", want: "scheduler.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransform(tt.in); got != tt.want {
				t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOOPED_DATABASE_URL", "postgres://localhost/looped_test")
	t.Setenv("LOOPED_JWT_SECRET", "test-secret")
	t.Setenv("LOOPED_SCHEDULER_INTERVAL", "30m")
	t.Setenv("LOOPED_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/looped_test" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.JWT.Secret != "test-secret" {
		t.Errorf("JWT.Secret = %q", cfg.JWT.Secret)
	}
	if cfg.Scheduler.Interval != 30*time.Minute {
		t.Errorf("Scheduler.Interval = %v, want 30m", cfg.Scheduler.Interval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	// Defaults survive where the environment is silent.
	if cfg.Server.Addr != "0.0.0.0:8080" {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.JWT.TTL != time.Hour {
		t.Errorf("JWT.TTL = %v, want default 1h", cfg.JWT.TTL)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled = false, want default true")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Database.URL = "postgres://localhost/looped"
		cfg.JWT.Secret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{name: "non-positive interval", mutate: func(c *Config) { c.Scheduler.Interval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() error = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}
