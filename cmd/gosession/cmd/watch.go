package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/middleware"
)

var (
	watchListen    string
	watchKeepAlive bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session alive and print every change",
	Long: `Run a long-lived tab. Session changes are printed as JSON lines.

With --listen a local server is started:
  /healthz   liveness
  /session   the signed-in user, 401 when signed out
  /metrics   Prometheus metrics (when metrics are enabled)
  /proxy/*   authenticated reverse proxy to base_url`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "address for the local server, e.g. 127.0.0.1:7070")
	watchCmd.Flags().BoolVar(&watchKeepAlive, "keep-alive", false, "extend the session whenever the idle warning fires")
	rootCmd.AddCommand(watchCmd)
}

type changeLine struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	State  string    `json:"state"`
	User   string    `json:"user,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Source string    `json:"source"`
}

func newChangeLine(c goSession.SessionChange) changeLine {
	line := changeLine{
		At:     c.At,
		Kind:   string(c.Kind),
		State:  c.State.String(),
		Reason: string(c.Reason),
		Source: string(c.Source),
	}
	if c.User != nil {
		line.User = c.User.Username
	}
	return line
}

// changePrinter writes one JSON line per change. Delivery is synchronous, so
// writes are serialized here.
type changePrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newChangePrinter(w io.Writer) *changePrinter {
	return &changePrinter{enc: json.NewEncoder(w)}
}

func (p *changePrinter) print(c goSession.SessionChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(newChangeLine(c))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	opts := runtimeOptions{
		onWarning: func(remaining time.Duration) goSession.IdleDecision {
			if watchKeepAlive {
				return goSession.IdleExtend
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "idle: signing out in %s\n", remaining.Round(time.Second))
			return goSession.IdleWait
		},
	}
	rt, err := openRuntime(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	printer := newChangePrinter(out)
	unsubscribe := rt.manager.SubscribeToSessionChanges(printer.print)
	defer unsubscribe()

	if err := printStatus(cmd.ErrOrStderr(), rt.manager.SessionInfo(ctx), false); err != nil {
		return err
	}

	if watchListen == "" {
		<-ctx.Done()
		return nil
	}

	handler, err := newRouter(rt)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              watchListen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("local server listening", "addr", watchListen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter builds the local server of the watch command.
func newRouter(rt *runtime) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	r.With(middleware.RequireSession(rt.manager)).Get("/session", func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.UserFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})

	if rt.cfg.Metrics {
		r.Handle("/metrics", prometheus.NewPrometheusExporter(rt.manager).Handler())
	}

	if rt.cfg.BaseURL != "" {
		target, err := url.Parse(rt.cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base_url: %w", err)
		}
		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(target)
				pr.Out.Header.Del("Authorization")
			},
			Transport: middleware.NewRoundTripper(rt.manager),
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				status := http.StatusBadGateway
				if errors.Is(err, goSession.ErrAuthRequired) {
					status = http.StatusUnauthorized
				}
				http.Error(w, err.Error(), status)
			},
		}
		r.With(middleware.TrackActivity(rt.manager)).Handle("/proxy/*", http.StripPrefix("/proxy", proxy))
	}

	return r, nil
}
