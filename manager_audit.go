package goSession

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/vault"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventTwoFactorRequired  = "two_factor_required"
	auditEventTwoFactorSuccess   = "two_factor_success"
	auditEventTwoFactorFailure   = "two_factor_failure"
	auditEventTwoFactorExpired   = "two_factor_expired"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshDenied      = "refresh_denied"
	auditEventLogout             = "logout"
	auditEventIdleLogout         = "idle_logout"
	auditEventSessionInvalid     = "session_invalid"
	auditEventSessionExtended    = "session_extended"
	auditEventRemoteLogin        = "remote_login"
	auditEventRemoteLogout       = "remote_logout"
	auditEventRateLimitTriggered = "rate_limited"
	auditEventVaultDiscarded     = "vault_discarded"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrAuthRequired       AuditErrorCode = "auth_required"
	auditErrRefreshDenied      AuditErrorCode = "refresh_denied"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrNetwork            AuditErrorCode = "network_failure"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrTwoFactorRejected  AuditErrorCode = "two_factor_rejected"
	auditErrTwoFactorExpired   AuditErrorCode = "two_factor_expired"
	auditErrMalformed          AuditErrorCode = "malformed_response"
	auditErrStorage            AuditErrorCode = "storage_unavailable"
	auditErrUpstream           AuditErrorCode = "upstream"
	auditErrCorrupt            AuditErrorCode = "corrupt_record"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (m *Manager) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: m.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	m.audit.Emit(ctx, event)
}

func (m *Manager) emitRateLimit(ctx context.Context, class string) {
	m.metricInc(MetricRateLimitHit)
	m.emitAudit(ctx, auditEventRateLimitTriggered, false, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"class": class}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRefreshDenied):
		return auditErrRefreshDenied
	case errors.Is(err, ErrAuthRequired):
		return auditErrAuthRequired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrNetworkFailure):
		return auditErrNetwork
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTwoFactorRejected):
		return auditErrTwoFactorRejected
	case errors.Is(err, ErrTwoFactorExpired):
		return auditErrTwoFactorExpired
	case errors.Is(err, ErrMalformedResponse):
		return auditErrMalformed
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrUpstream):
		return auditErrUpstream
	case errors.Is(err, vault.ErrCorrupt):
		return auditErrCorrupt
	default:
		return auditErrInternal
	}
}
