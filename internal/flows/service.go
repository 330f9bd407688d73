package flows

import (
	"context"

	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// Service is the centralized flow runner built once by the Manager.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.Vault != nil && s.deps.Refresh.Exchange != nil
}

func (s Service) Refresh(ctx context.Context) RefreshResult {
	return RunRefresh(ctx, s.deps.Refresh)
}

// Execute runs one authenticated request. replaySafe overrides the method
// check for the 401 retry.
func (s Service) Execute(ctx context.Context, req *transport.Request, replaySafe bool) ExecuteResult {
	deps := s.deps.Execute
	deps.ReplaySafe = replaySafe || req.ReplaySafe
	return RunExecute(ctx, req, deps)
}

func (s Service) Login(ctx context.Context, identifier, secret string) LoginResult {
	return RunLogin(ctx, identifier, secret, s.deps.Login)
}

func (s Service) VerifyTwoFactor(ctx context.Context, tempToken, code string) LoginResult {
	return RunVerifyTwoFactor(ctx, tempToken, code, s.deps.Login)
}

func (s Service) Logout(ctx context.Context, cause vault.Cause) LogoutResult {
	deps := s.deps.Logout
	deps.Cause = cause
	return RunLogout(ctx, deps)
}

func (s Service) Bootstrap(ctx context.Context) BootstrapResult {
	return RunBootstrap(ctx, s.deps.Bootstrap)
}
