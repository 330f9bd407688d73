package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/broadcast/redisbus"
	"github.com/MrEthical07/goSession/internal/authtest"
	"github.com/MrEthical07/goSession/storage/redisstore"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through a session against an in-process server",
	Long: `Start an in-process authentication server and an embedded Redis, open
two tabs sharing one vault and one broadcast channel, and walk through sign-in
with a verification code, an authenticated call that survives a revoked access
token, and a sign-out that reaches the other tab.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return runDemo(ctx, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

const demoWait = 5 * time.Second

func runDemo(ctx context.Context, out io.Writer) error {
	mr, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("start embedded redis: %w", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	srv, err := authtest.New(authtest.Options{})
	if err != nil {
		return err
	}
	secret, err := authtest.NewTOTPSecret("demo")
	if err != nil {
		return err
	}
	srv.AddAccount(authtest.Account{
		Username:   "demo",
		Email:      "demo@example.com",
		Password:   "demo",
		FullName:   "Demo User",
		TOTPSecret: secret,
	})

	cfg := defaultFileConfig()
	cfg.BaseURL = "http://authtest"
	cfg.Storage.Driver = "memory"
	cfg.LogLevel = "error"

	storage := redisstore.New(client, "gosession-demo", 0)
	newBus := func() *redisbus.Bus {
		return redisbus.New(client, redisbus.Options{Channel: "gosession-demo.tabs", RetainTTL: -1})
	}

	busA, busB := newBus(), newBus()
	defer busA.Close()
	defer busB.Close()

	tabA, err := openRuntime(ctx, cfg, runtimeOptions{transport: srv, storage: storage, bus: busA, tabID: "tab-a"})
	if err != nil {
		return err
	}
	defer tabA.Close()
	tabB, err := openRuntime(ctx, cfg, runtimeOptions{transport: srv, storage: storage, bus: busB, tabID: "tab-b"})
	if err != nil {
		return err
	}
	defer tabB.Close()

	changesB := make(chan goSession.SessionChange, 16)
	unsubscribe := tabB.manager.SubscribeToSessionChanges(func(c goSession.SessionChange) {
		select {
		case changesB <- c:
		default:
		}
	})
	defer unsubscribe()

	fmt.Fprintln(out, "1. tab-a signs in as demo")
	res, err := tabA.manager.Login(ctx, "demo", "demo")
	if err != nil {
		return err
	}
	if !res.RequiresTwoFactor {
		return errors.New("expected a verification challenge")
	}
	fmt.Fprintf(out, "   verification required, code sent to %s\n", res.EmailHint)

	code, err := authtest.Code(secret, time.Now())
	if err != nil {
		return err
	}
	res, err = tabA.manager.SubmitTwoFactorChallenge(ctx, res.TempToken, code)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   signed in as %s\n", res.User.Username)

	fmt.Fprintln(out, "2. tab-b picks up the session")
	if err := awaitChange(ctx, changesB, goSession.StateAuthenticated); err != nil {
		return err
	}
	fmt.Fprintf(out, "   tab-b user: %s\n", tabB.manager.AuthenticatedSnapshot().Username)

	fmt.Fprintln(out, "3. the server revokes access tokens, tab-a calls GET /api/orders")
	srv.RevokeAccess()
	resp, err := tabA.manager.ExecuteAuthenticated(ctx, &goSession.Request{Method: http.MethodGet, URL: "/api/orders"})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   %d after refresh, %d upstream calls\n", resp.Status, srv.Calls(http.MethodGet, "/api/orders"))

	fmt.Fprintln(out, "4. tab-a signs out")
	tabA.manager.Logout(ctx, goSession.ReasonExplicit)
	if err := awaitChange(ctx, changesB, goSession.StateUnauthenticated); err != nil {
		return err
	}
	fmt.Fprintf(out, "   tab-b state: %s\n", tabB.manager.State())
	return nil
}

func awaitChange(ctx context.Context, ch <-chan goSession.SessionChange, want goSession.SessionState) error {
	timer := time.NewTimer(demoWait)
	defer timer.Stop()
	for {
		select {
		case c := <-ch:
			if c.State == want {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %s", want)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
