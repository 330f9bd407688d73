package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/broadcast/natsbus"
	"github.com/MrEthical07/goSession/broadcast/redisbus"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/storage/boltstore"
	"github.com/MrEthical07/goSession/storage/filestore"
	memstore "github.com/MrEthical07/goSession/storage/memory"
	"github.com/MrEthical07/goSession/storage/redisstore"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// runtimeOptions overrides pieces the config file would otherwise select.
type runtimeOptions struct {
	transport transport.Transport
	storage   vault.Storage
	bus       broadcast.Transport
	auditOut  io.Writer
	onWarning goSession.IdleWarningFunc
	tabID     string
}

// runtime is a started Manager plus everything opened for it.
type runtime struct {
	cfg     *fileConfig
	logger  *slog.Logger
	manager *goSession.Manager
	redis   map[string]*redis.Client
	closers []func() error
}

func openRuntime(ctx context.Context, cfg *fileConfig, opts runtimeOptions) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	rt := &runtime{
		cfg:    cfg,
		logger: logger.Setup(os.Stderr, logger.ParseLevel(level)),
		redis:  make(map[string]*redis.Client),
	}

	mcfg, err := rt.managerConfig(opts)
	if err != nil {
		return nil, err
	}

	b := goSession.New().
		WithConfig(mcfg).
		WithLogger(rt.logger)

	if opts.transport != nil {
		b.WithTransport(opts.transport)
	}

	storage := opts.storage
	if storage == nil {
		storage, err = rt.openStorage()
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	b.WithStorage(storage)

	bus := opts.bus
	if bus == nil {
		bus, err = rt.openBroadcast()
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	if bus != nil {
		b.WithBroadcastTransport(bus)
	}

	if cfg.Audit {
		if opts.auditOut != nil {
			b.WithAuditSink(goSession.NewJSONWriterSink(opts.auditOut))
		} else {
			b.WithAuditSink(goSession.NewSlogSink(rt.logger))
		}
	}
	if opts.onWarning != nil {
		b.WithIdleWarning(opts.onWarning)
	}

	m, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.manager = m

	for _, w := range mcfg.Lint() {
		rt.logger.Warn("config lint", "code", w.Code, "message", w.Message)
	}

	if err := m.Start(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("start session manager: %w", err)
	}
	return rt, nil
}

func (rt *runtime) managerConfig(opts runtimeOptions) (goSession.Config, error) {
	cfg := rt.cfg
	mcfg := goSession.DefaultConfig()
	mcfg.API.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		mcfg.API.Timeout = cfg.Timeout
	}

	key, err := cfg.sealKey()
	if err != nil {
		return mcfg, err
	}
	mcfg.Vault.SealKey = key
	if cfg.Storage.Namespace != "" {
		mcfg.Vault.Prefix = cfg.Storage.Namespace
	}

	if cfg.Idle.Budget > 0 {
		mcfg.Idle.Budget = cfg.Idle.Budget
	}
	if cfg.Idle.WarningLead > 0 {
		mcfg.Idle.WarningLead = cfg.Idle.WarningLead
	}
	mcfg.Idle.Exempt = cfg.Idle.Exempt

	mcfg.Audit.Enabled = cfg.Audit
	mcfg.Metrics.Enabled = cfg.Metrics
	mcfg.Metrics.EnableLatencyHistograms = cfg.Metrics

	switch {
	case opts.tabID != "":
		mcfg.Broadcast.TabID = opts.tabID
	case tabID != "":
		mcfg.Broadcast.TabID = tabID
	default:
		mcfg.Broadcast.TabID = cfg.TabID
	}
	return mcfg, nil
}

func (rt *runtime) openStorage() (vault.Storage, error) {
	sc := rt.cfg.Storage
	switch sc.Driver {
	case "memory":
		return memstore.New(), nil

	case "file":
		s, err := filestore.New(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, nil

	case "bolt":
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		s, err := boltstore.Open(sc.Path, sc.Bucket, &bbolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		return s, nil

	case "redis":
		return redisstore.New(rt.redisClient(sc.RedisAddr), sc.Namespace, 0), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

// openBroadcast returns nil for the memory driver so the manager keeps its own hub.
func (rt *runtime) openBroadcast() (broadcast.Transport, error) {
	bc := rt.cfg.Broadcast
	switch bc.Driver {
	case "", "memory":
		return nil, nil

	case "redis":
		addr := bc.RedisAddr
		if addr == "" {
			addr = rt.cfg.Storage.RedisAddr
		}
		bus := redisbus.New(rt.redisClient(addr), redisbus.Options{
			Channel: bc.Channel,
			Logger:  rt.logger,
		})
		rt.closers = append(rt.closers, bus.Close)
		return bus, nil

	case "nats":
		bus, err := natsbus.Connect(bc.URL, bc.Channel, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, bus.Close)
		return bus, nil
	}
	return nil, fmt.Errorf("unknown broadcast driver %q", bc.Driver)
}

func (rt *runtime) redisClient(addr string) *redis.Client {
	if c, ok := rt.redis[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	rt.redis[addr] = c
	rt.closers = append(rt.closers, c.Close)
	return c
}

// Close stops the manager first, then everything it was using.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.manager != nil {
		rt.manager.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Debug("close", "error", err)
		}
	}
	rt.closers = nil
}
