package goSession

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds every tunable of a [Manager].
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	API       APIConfig
	Vault     VaultConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
	Idle      IdleConfig
	TwoFactor TwoFactorConfig
	Broadcast BroadcastConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the authentication server.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
	Paths   PathsConfig
	// DefaultAccessTTL is assumed when the server states no expiry and the
	// token carries no exp claim.
	DefaultAccessTTL time.Duration
}

// PathsConfig holds server endpoint paths relative to BaseURL.
type PathsConfig struct {
	Login           string
	VerifyTwoFactor string
	Refresh         string
	Logout          string
	Me              string
	Register        string
}

/*
====================================
SESSION CONFIG
====================================
*/

// VaultConfig controls credential persistence.
type VaultConfig struct {
	// Prefix namespaces the record key, one per application origin.
	Prefix string
	// SealKey enables at-rest encryption of the record when non-empty.
	SealKey []byte
}

// RefreshConfig controls proactive refresh.
type RefreshConfig struct {
	// Threshold is how close to expiry an access token is refreshed before use.
	Threshold time.Duration
}

// RateLimitConfig sets per-tab ceilings per sliding window.
type RateLimitConfig struct {
	Window    time.Duration
	Refresh   int
	API       int
	Login     int
	TwoFactor int
}

// IdleConfig controls the inactivity timer.
type IdleConfig struct {
	Budget      time.Duration
	WarningLead time.Duration
	// Exempt disables idle logout for mobile or native shells.
	Exempt           bool
	ActivityThrottle time.Duration
}

// TwoFactorConfig controls the step-up sub-state.
type TwoFactorConfig struct {
	// ChallengeTTL bounds a pending challenge whose temp token carries no exp.
	ChallengeTTL time.Duration
}

// BroadcastConfig controls cross-tab messaging.
type BroadcastConfig struct {
	// TabID identifies this tab. A random UUID is used when empty.
	TabID string
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			Timeout: 15 * time.Second,
			Paths: PathsConfig{
				Login:           "/auth/login",
				VerifyTwoFactor: "/auth/verify-2fa",
				Refresh:         "/auth/refresh",
				Logout:          "/auth/logout",
				Me:              "/auth/me",
				Register:        "/auth/register",
			},
			DefaultAccessTTL: time.Hour,
		},
		Vault: VaultConfig{
			Prefix: "gosession",
		},
		Refresh: RefreshConfig{
			Threshold: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Refresh:   3,
			API:       20,
			Login:     5,
			TwoFactor: 5,
		},
		Idle: IdleConfig{
			Budget:           30 * time.Minute,
			WarningLead:      5 * time.Minute,
			ActivityThrottle: time.Second,
		},
		TwoFactor: TwoFactorConfig{
			ChallengeTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Vault.SealKey = cloneBytes(cfg.Vault.SealKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// API
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("API BaseURL must be an absolute URL")
		}
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}
	if c.API.DefaultAccessTTL <= 0 {
		return errors.New("API DefaultAccessTTL must be > 0")
	}
	p := c.API.Paths
	if p.Login == "" || p.VerifyTwoFactor == "" || p.Refresh == "" || p.Logout == "" || p.Me == "" || p.Register == "" {
		return errors.New("API Paths must all be set")
	}

	// Vault
	if c.Vault.Prefix == "" {
		return errors.New("Vault Prefix must be set")
	}
	if n := len(c.Vault.SealKey); n > 0 && n < 16 {
		return errors.New("Vault SealKey must be at least 16 bytes")
	}

	// Refresh
	if c.Refresh.Threshold < 0 {
		return errors.New("Refresh Threshold must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.Refresh <= 0 || c.RateLimit.API <= 0 || c.RateLimit.Login <= 0 || c.RateLimit.TwoFactor <= 0 {
		return errors.New("RateLimit ceilings must be > 0")
	}

	// Idle
	if !c.Idle.Exempt {
		if c.Idle.Budget <= 0 {
			return errors.New("Idle Budget must be > 0")
		}
		if c.Idle.WarningLead < 0 || c.Idle.WarningLead >= c.Idle.Budget {
			return errors.New("Idle WarningLead must be >= 0 and < Budget")
		}
	}
	if c.Idle.ActivityThrottle < 0 {
		return errors.New("Idle ActivityThrottle must be >= 0")
	}

	// Two-factor
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("TwoFactor ChallengeTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a legal but questionable setting.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint returns warnings for settings that pass Validate but weaken the
// session's safety net.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.Idle.Exempt {
		add("idle_disabled", "idle logout is disabled")
	} else if c.Idle.WarningLead == 0 {
		add("idle_no_warning", "idle logout fires without a warning")
	}
	if !c.Idle.Exempt && c.Idle.Budget > 12*time.Hour {
		add("idle_budget_long", "idle budget exceeds 12h")
	}
	if c.Refresh.Threshold >= c.API.DefaultAccessTTL {
		add("refresh_threshold_exceeds_ttl", "every request with a default-lifetime token refreshes first")
	}
	if c.RateLimit.Refresh > 5 {
		add("refresh_ceiling_high", "refresh ceiling above 5 per window lets failures cascade")
	}
	if len(c.Vault.SealKey) == 0 {
		add("vault_unsealed", "credentials are stored unencrypted")
	}
	if insecureBaseURL(c.API.BaseURL) {
		add("base_url_insecure", "API BaseURL uses plain http to a non-local host")
	}
	return ws
}

func insecureBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != "localhost" && host != "127.0.0.1" && host != "::1"
}
