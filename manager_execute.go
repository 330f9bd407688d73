package goSession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
)

const refreshFlightKey = "refresh"

// ExecuteAuthenticated sends req with the session's access token.
//
// A token within Refresh.Threshold of expiry is refreshed first. A 401 is
// answered with one refresh and one resend, and only for requests that are
// safe to replay: GET, HEAD, OPTIONS, PUT and DELETE, or requests marked with
// Request.ReplaySafe or [WithReplaySafe]. Any other request that hits a 401
// comes back as an [*UpstreamError] matching [ErrNotReplayed]; resending it is
// the caller's decision.
//
// Errors: [ErrRateLimited], [ErrAuthRequired] (wrapping [ErrRefreshDenied]
// when the server refused the refresh and the session was cleared),
// [ErrNetworkFailure] (the session is kept) and [*UpstreamError] for any
// other non-2xx status.
func (m *Manager) ExecuteAuthenticated(ctx context.Context, req *Request) (*Response, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("goSession: nil request")
	}

	start := time.Now()
	res := m.flows.Execute(ctx, req, replaySafeFromContext(ctx))
	if m.metrics.LatencyEnabled() {
		m.metrics.Observe(MetricExecuteLatency, time.Since(start))
	}
	if res.Retried {
		m.metricInc(MetricExecuteRetried)
	}

	switch res.Failure {
	case flows.ExecuteFailureNone:
		m.metricInc(MetricExecuteSuccess)
		return res.Response, nil

	case flows.ExecuteFailureRateLimited:
		// Refresh throttling is recorded by the refresh itself.
		if res.Refresh != flows.RefreshFailureRateLimited {
			m.emitRateLimit(ctx, string(rate.ClassAPI))
		}
		return nil, ErrRateLimited

	case flows.ExecuteFailureAuthRequired:
		if res.Refresh == flows.RefreshFailureDenied {
			return nil, fmt.Errorf("%w: %w", ErrAuthRequired, ErrRefreshDenied)
		}
		return nil, ErrAuthRequired

	case flows.ExecuteFailureNetwork:
		m.metricInc(MetricExecuteNetworkFailure)
		if res.Err == nil {
			return nil, ErrNetworkFailure
		}
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, res.Err)

	case flows.ExecuteFailureNotReplayed:
		return nil, upstreamError(res.Response, true)

	case flows.ExecuteFailureSessionInvalid:
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, ErrRefreshDenied)

	default:
		m.metricInc(MetricExecuteUpstreamError)
		return nil, upstreamError(res.Response, false)
	}
}

// Refresh exchanges the refresh token now. Concurrent calls share one
// exchange. Once started the exchange runs to completion even if ctx ends;
// the caller then gets ctx's error and the result is still stored.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	res := m.refresh(ctx)
	switch res.Failure {
	case flows.RefreshFailureNone:
		return nil
	case flows.RefreshFailureNoToken, flows.RefreshFailureSuperseded:
		return ErrAuthRequired
	case flows.RefreshFailureRateLimited:
		return ErrRateLimited
	case flows.RefreshFailureNetwork:
		return fmt.Errorf("%w: %w", ErrNetworkFailure, res.Err)
	case flows.RefreshFailureDenied:
		return fmt.Errorf("%w: %v", ErrRefreshDenied, res.Err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err)
	}
}

// refresh runs or joins the tab's single in-flight refresh.
func (m *Manager) refresh(ctx context.Context) flows.RefreshResult {
	ch := m.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		res := m.flows.Refresh(flightCtx)
		m.recordRefresh(flightCtx, res)
		return res, nil
	})

	select {
	case r := <-ch:
		return r.Val.(flows.RefreshResult)
	case <-ctx.Done():
		return flows.RefreshResult{
			Failure: flows.RefreshFailureNetwork,
			Err:     fmt.Errorf("%w: %w", transport.ErrNetwork, ctx.Err()),
		}
	}
}

func (m *Manager) recordRefresh(ctx context.Context, res flows.RefreshResult) {
	switch res.Failure {
	case flows.RefreshFailureNone:
		m.metricInc(MetricRefreshSuccess)
		m.emitAudit(ctx, auditEventRefreshSuccess, true, m.currentUserID(), nil, nil)
	case flows.RefreshFailureRateLimited:
		m.metricInc(MetricRefreshRateLimited)
		m.emitRateLimit(ctx, string(rate.ClassRefresh))
	case flows.RefreshFailureDenied:
		m.metricInc(MetricRefreshDenied)
		m.emitAudit(ctx, auditEventRefreshDenied, false, "", ErrRefreshDenied, nil)
	case flows.RefreshFailureNetwork, flows.RefreshFailureStore:
		m.metricInc(MetricRefreshFailure)
		m.logger.Warn("goSession: refresh failed", "err", res.Err)
	case flows.RefreshFailureSuperseded:
		m.logger.Debug("goSession: refresh result dropped, session ended during exchange")
	}
}

func upstreamError(resp *transport.Response, notReplayed bool) *UpstreamError {
	e := &UpstreamError{notReplayed: notReplayed}
	if resp == nil {
		return e
	}
	e.Status = resp.Status
	e.Header = resp.Header.Clone()
	e.Body = resp.Body
	e.Message = authapi.Message(resp.Body)
	return e
}
