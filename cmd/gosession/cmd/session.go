package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	goSession "github.com/MrEthical07/goSession"
)

const envPassword = "GOSESSION_PASSWORD"

var (
	loginPassword string
	loginCode     string
	statusJSON    bool
)

var loginCmd = &cobra.Command{
	Use:   "login <username-or-email>",
	Short: "Sign in and store the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			rt.manager.Logout(ctx, goSession.ReasonExplicit)
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return printStatus(cmd.OutOrStdout(), rt.manager.SessionInfo(ctx), statusJSON)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if err := rt.manager.Refresh(ctx); err != nil {
				return err
			}
			info := rt.manager.SessionInfo(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed, access token valid until %s\n", info.AccessExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (default $"+envPassword+", else prompt)")
	loginCmd.Flags().StringVar(&loginCode, "code", "", "verification code for accounts with two-factor sign-in")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, refreshCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())

		password := loginPassword
		if password == "" {
			password = os.Getenv(envPassword)
		}
		if password == "" {
			p, err := promptSecret(out, cmd.InOrStdin(), in, "Password: ")
			if err != nil {
				return err
			}
			password = p
		}

		res, err := rt.manager.Login(ctx, args[0], password)
		if err != nil {
			return err
		}

		if res.RequiresTwoFactor {
			fmt.Fprintf(out, "Verification required (%s", res.Method)
			if res.EmailHint != "" {
				fmt.Fprintf(out, ", code sent to %s", res.EmailHint)
			}
			fmt.Fprintf(out, "), expires %s\n", res.ChallengeExpires.Format(time.RFC3339))

			code := loginCode
			if code == "" {
				c, err := prompt(out, in, "Code: ")
				if err != nil {
					return err
				}
				code = c
			}
			res, err = rt.manager.SubmitTwoFactorChallenge(ctx, res.TempToken, code)
			if err != nil {
				return err
			}
		}

		name := ""
		if res.User != nil {
			name = res.User.Username
		}
		fmt.Fprintf(out, "Signed in as %s\n", name)
		return nil
	})
}

func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// promptSecret reads a secret without echo when stdin is a terminal. Piped
// input is read as a plain line.
func promptSecret(out io.Writer, stdin io.Reader, in *bufio.Reader, label string) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt(out, in, label)
	}
	fmt.Fprint(out, label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func prompt(out io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type statusView struct {
	Tab              string                  `json:"tab"`
	State            string                  `json:"state"`
	User             *goSession.UserSnapshot `json:"user,omitempty"`
	AccessExpiresAt  *time.Time              `json:"access_expires_at,omitempty"`
	CookieSession    bool                    `json:"cookie_session,omitempty"`
	Idle             string                  `json:"idle"`
	IdleRemaining    string                  `json:"idle_remaining,omitempty"`
	ChallengeExpires *time.Time              `json:"challenge_expires,omitempty"`
}

func newStatusView(info goSession.SessionInfo) statusView {
	v := statusView{
		Tab:           info.TabID,
		State:         info.State.String(),
		User:          info.User,
		CookieSession: info.CookieSession,
		Idle:          info.IdleState,
	}
	if !info.AccessExpiresAt.IsZero() {
		t := info.AccessExpiresAt
		v.AccessExpiresAt = &t
	}
	if !info.ChallengeExpires.IsZero() {
		t := info.ChallengeExpires
		v.ChallengeExpires = &t
	}
	if info.IdleDisabled {
		v.Idle = "disabled"
	} else if info.IdleRemaining > 0 {
		v.IdleRemaining = info.IdleRemaining.Round(time.Second).String()
	}
	return v
}

func printStatus(w io.Writer, info goSession.SessionInfo, asJSON bool) error {
	v := newStatusView(info)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	fmt.Fprintf(w, "State:  %s\n", v.State)
	if v.User != nil {
		fmt.Fprintf(w, "User:   %s (%s)\n", v.User.Username, v.User.ID)
	}
	if v.AccessExpiresAt != nil {
		fmt.Fprintf(w, "Token:  valid until %s\n", v.AccessExpiresAt.Format(time.RFC3339))
	}
	if v.CookieSession {
		fmt.Fprintln(w, "Token:  server-managed cookie")
	}
	fmt.Fprintf(w, "Idle:   %s", v.Idle)
	if v.IdleRemaining != "" {
		fmt.Fprintf(w, " (%s left)", v.IdleRemaining)
	}
	fmt.Fprintln(w)
	return nil
}
