package goSession

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "base url absolute",
			mutate: func(c *Config) {
				c.API.BaseURL = "https://auth.example.com/v1"
			},
			wantValid: true,
		},
		{
			name: "base url relative invalid",
			mutate: func(c *Config) {
				c.API.BaseURL = "/auth"
			},
			wantValid: false,
		},
		{
			name: "negative timeout invalid",
			mutate: func(c *Config) {
				c.API.Timeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "missing path invalid",
			mutate: func(c *Config) {
				c.API.Paths.Refresh = ""
			},
			wantValid: false,
		},
		{
			name: "empty vault prefix invalid",
			mutate: func(c *Config) {
				c.Vault.Prefix = ""
			},
			wantValid: false,
		},
		{
			name: "short seal key invalid",
			mutate: func(c *Config) {
				c.Vault.SealKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "seal key valid",
			mutate: func(c *Config) {
				c.Vault.SealKey = []byte("0123456789abcdef0123456789abcdef")
			},
			wantValid: true,
		},
		{
			name: "zero rate window invalid",
			mutate: func(c *Config) {
				c.RateLimit.Window = 0
			},
			wantValid: false,
		},
		{
			name: "zero refresh ceiling invalid",
			mutate: func(c *Config) {
				c.RateLimit.Refresh = 0
			},
			wantValid: false,
		},
		{
			name: "warning lead beyond budget invalid",
			mutate: func(c *Config) {
				c.Idle.WarningLead = c.Idle.Budget
			},
			wantValid: false,
		},
		{
			name: "exempt ignores budget",
			mutate: func(c *Config) {
				c.Idle.Exempt = true
				c.Idle.Budget = 0
			},
			wantValid: true,
		},
		{
			name: "zero challenge ttl invalid",
			mutate: func(c *Config) {
				c.TwoFactor.ChallengeTTL = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer required when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Idle.Budget != 30*time.Minute || cfg.Idle.WarningLead != 5*time.Minute {
		t.Fatalf("unexpected idle defaults: %+v", cfg.Idle)
	}
	if cfg.Refresh.Threshold != 5*time.Minute {
		t.Fatalf("unexpected refresh threshold: %v", cfg.Refresh.Threshold)
	}
	rl := cfg.RateLimit
	if rl.Window != time.Minute || rl.Refresh != 3 || rl.API != 20 || rl.Login != 5 || rl.TwoFactor != 5 {
		t.Fatalf("unexpected rate limit defaults: %+v", rl)
	}
}

func TestCloneConfigCopiesSealKey(t *testing.T) {
	cfg := defaultConfig()
	cfg.Vault.SealKey = []byte("0123456789abcdef")
	out := cloneConfig(cfg)
	cfg.Vault.SealKey[0] = 'x'
	if out.Vault.SealKey[0] != '0' {
		t.Fatal("expected clone to own its seal key")
	}
}
