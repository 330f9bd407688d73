package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
)

var (
	callData       string
	callHeaders    []string
	callReplaySafe bool
)

var callCmd = &cobra.Command{
	Use:   "call <METHOD> <URL>",
	Short: "Send an authenticated request and print the response body",
	Long: `Send an authenticated request. Relative URLs resolve against base_url.

A request that fails with 401 is refreshed and resent once when it is
idempotent or marked with --replay-safe.`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var registerInput goSession.RegisterInput

func init() {
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "request body")
	callCmd.Flags().StringArrayVarP(&callHeaders, "header", "H", nil, `extra header as "Name: value" (repeatable)`)
	callCmd.Flags().BoolVar(&callReplaySafe, "replay-safe", false, "allow a non-idempotent request to be resent after a refresh")

	f := registerCmd.Flags()
	f.StringVar(&registerInput.Username, "username", "", "account username")
	f.StringVar(&registerInput.Email, "email", "", "account email")
	f.StringVar(&registerInput.Password, "password", "", "account password")
	f.StringVar(&registerInput.FullName, "full-name", "", "display name")
	f.StringVar(&registerInput.Phone, "phone", "", "phone number")
	f.StringVar(&registerInput.Address, "address", "", "postal address")
	_ = registerCmd.MarkFlagRequired("username")
	_ = registerCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(callCmd, registerCmd)
}

func buildCallRequest(method, url, data string, headers []string, replaySafe bool) (*goSession.Request, error) {
	req := &goSession.Request{
		Method:     strings.ToUpper(method),
		URL:        url,
		Header:     http.Header{},
		ReplaySafe: replaySafe,
	}
	if data != "" {
		req.Body = []byte(data)
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	req, err := buildCallRequest(args[0], args[1], callData, callHeaders, callReplaySafe)
	if err != nil {
		return err
	}

	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		resp, err := rt.manager.ExecuteAuthenticated(ctx, req)
		if err != nil {
			var ue *goSession.UpstreamError
			if errors.As(err, &ue) && len(ue.Body) > 0 {
				cmd.OutOrStdout().Write(ue.Body)
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d %s\n", resp.Status, http.StatusText(resp.Status))
		cmd.OutOrStdout().Write(resp.Body)
		if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		msg, err := rt.manager.Register(ctx, registerInput)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "Registered"
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	})
}
