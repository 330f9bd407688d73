package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goSession/broadcast"
	membus "github.com/MrEthical07/goSession/broadcast/memory"
	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/idle"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/internal/rate"
	memstore "github.com/MrEthical07/goSession/storage/memory"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// Builder assembles a [Manager]. A Builder is single-use.
type Builder struct {
	config Config

	transport transport.Transport
	storage   vault.Storage
	bus       broadcast.Transport
	clock     clock.Clock
	logger    *slog.Logger

	auditSink AuditSink
	purger    CachePurger
	onWarning IdleWarningFunc

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport sets the HTTP strategy used for auth endpoints and for
// [Manager.ExecuteAuthenticated]. Without it, Build creates a net/http
// transport for Config.API.BaseURL.
func (b *Builder) WithTransport(t transport.Transport) *Builder {
	b.transport = t
	return b
}

// WithStorage sets the origin-scoped store behind the vault. Tabs that must
// share a session share one storage. Defaults to a private in-memory store.
func (b *Builder) WithStorage(s vault.Storage) *Builder {
	b.storage = s
	return b
}

// WithBroadcastTransport sets the cross-tab bus. Defaults to a private
// in-process hub, which the Manager closes on Close.
func (b *Builder) WithBroadcastTransport(t broadcast.Transport) *Builder {
	b.bus = t
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit destination. Events are dispatched only when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCachePurger sets the offline response cache purged on logout.
func (b *Builder) WithCachePurger(p CachePurger) *Builder {
	b.purger = p
	return b
}

// WithIdleWarning sets the decision callback run at the idle warning lead.
// Without one the tab logs out when the budget runs out.
func (b *Builder) WithIdleWarning(fn IdleWarningFunc) *Builder {
	b.onWarning = fn
	return b
}

func (b *Builder) WithTabID(id string) *Builder {
	b.config.Broadcast.TabID = id
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Manager. Call
// [Manager.Start] afterwards to restore an existing session.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}
	log := b.logger
	if log == nil {
		log = logger.Discard()
	}

	// -------- TRANSPORT --------
	send := b.transport
	if send == nil {
		if cfg.API.BaseURL == "" {
			return nil, errors.New("transport or API BaseURL required")
		}
		h, err := transport.NewHTTP(transport.HTTPOptions{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
		})
		if err != nil {
			return nil, err
		}
		send = h
	}

	// -------- VAULT --------
	storage := b.storage
	if storage == nil {
		storage = memstore.New()
	}
	var sealer vault.Sealer
	if len(cfg.Vault.SealKey) > 0 {
		s, err := vault.NewAEADSealer(cfg.Vault.SealKey)
		if err != nil {
			return nil, fmt.Errorf("vault seal key: %w", err)
		}
		sealer = s
	}

	// -------- BROADCAST --------
	busTransport := b.bus
	ownsBus := false
	if busTransport == nil {
		busTransport = membus.NewHub()
		ownsBus = true
	}

	lifeCtx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:       cfg,
		logger:       log,
		clock:        clk,
		send:         send,
		busTransport: busTransport,
		ownsBus:      ownsBus,
		purger:       b.purger,
		onWarning:    b.onWarning,
		metrics:      NewMetrics(cfg.Metrics),
		sem:          make(chan struct{}, 1),
		storageDirty: make(chan struct{}, 1),
		ready:        make(chan struct{}),
		lifeCtx:      lifeCtx,
		cancel:       cancel,
	}

	m.vault = vault.New(storage, vault.Options{
		Prefix:    cfg.Vault.Prefix,
		Sealer:    sealer,
		Notifier:  vault.NotifierFunc(m.onVaultChange),
		Clock:     clk,
		OnDiscard: m.onVaultDiscard,
	})
	m.limiter = rate.New(rate.Config{
		Window: cfg.RateLimit.Window,
		Ceilings: map[rate.Class]int{
			rate.ClassRefresh:   cfg.RateLimit.Refresh,
			rate.ClassAPI:       cfg.RateLimit.API,
			rate.ClassLogin:     cfg.RateLimit.Login,
			rate.ClassTwoFactor: cfg.RateLimit.TwoFactor,
		},
	}, clk)
	m.idle = idle.New(idle.Config{
		Budget:           cfg.Idle.Budget,
		WarningLead:      cfg.Idle.WarningLead,
		Exempt:           cfg.Idle.Exempt,
		ActivityThrottle: cfg.Idle.ActivityThrottle,
	}, clk)
	m.bus = broadcast.New(busTransport, broadcast.Options{
		TabID:  cfg.Broadcast.TabID,
		Logger: log,
		Clock:  clk,
	})
	m.audit = newAuditDispatcher(cfg.Audit, m.bus.TabID(), b.auditSink)
	m.api = authapi.New(send, authapi.Config{
		Paths: authapi.Paths{
			Login:           cfg.API.Paths.Login,
			VerifyTwoFactor: cfg.API.Paths.VerifyTwoFactor,
			Refresh:         cfg.API.Paths.Refresh,
			Logout:          cfg.API.Paths.Logout,
			Me:              cfg.API.Paths.Me,
			Register:        cfg.API.Paths.Register,
		},
		DefaultAccessTTL: cfg.API.DefaultAccessTTL,
		Now:              clk.Now,
	})

	// -------- FLOWS --------
	fenced := flows.Fenced(m.vault, &m.fence)
	m.flows = flows.New(flows.Deps{
		Refresh: flows.RefreshDeps{
			Vault:    fenced,
			Limiter:  m.limiter,
			Exchange: m.api.Refresh,
			Fence:    &m.fence,
			Revoke:   m.notifyServerLogout,
			Warn:     log.Warn,
		},
		Execute: flows.ExecuteDeps{
			Vault:            fenced,
			Limiter:          m.limiter,
			Refresh:          m.refresh,
			Send:             send.Send,
			Now:              clk.Now,
			RefreshThreshold: cfg.Refresh.Threshold,
			Warn:             log.Warn,
		},
		Login: flows.LoginDeps{
			Vault:   fenced,
			Limiter: m.limiter,
			API:     m.api,
		},
		Logout: flows.LogoutDeps{
			Vault:        fenced,
			NotifyServer: m.notifyServerLogout,
			PurgeCache:   m.purgeCache,
			Warn:         log.Warn,
		},
		Bootstrap: flows.BootstrapDeps{
			Vault:         fenced,
			FromBroadcast: m.announcedSession,
			FetchUser:     m.fetchCookieUser,
			Now:           clk.Now,
			Abort:         m.settled.Load,
			Warn:          log.Warn,
		},
	})

	for _, w := range cfg.Lint() {
		log.Warn("goSession: config lint", "code", w.Code, "message", w.Message)
	}

	b.built = true

	return m, nil
}
