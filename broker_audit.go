package authbroker

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegisterSuccess        = "register_success"
	auditEventRegisterFailure        = "register_failure"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventTOTPSetupRequested     = "totp_setup_requested"
	auditEventTOTPEnabled            = "totp_enabled"
	auditEventTOTPDisabled           = "totp_disabled"
	auditEventTOTPSuccess            = "totp_success"
	auditEventTOTPFailure            = "totp_failure"
	auditEventTOTPReplayDetected     = "totp_replay_detected"
	auditEventFidoRegisterBegin      = "fido_register_begin"
	auditEventFidoRegisterSuccess    = "fido_register_success"
	auditEventFidoRegisterFailure    = "fido_register_failure"
	auditEventFidoLoginBegin         = "fido_login_begin"
	auditEventFidoLoginSuccess       = "fido_login_success"
	auditEventFidoLoginFailure       = "fido_login_failure"
	auditEventFidoReplayDetected     = "fido_replay_detected"
	auditEventWalletNonceIssued      = "wallet_nonce_issued"
	auditEventWalletLoginSuccess     = "wallet_login_success"
	auditEventWalletLoginFailure     = "wallet_login_failure"
	auditEventSocialLoginSuccess     = "social_login_success"
	auditEventSocialLoginFailure     = "social_login_failure"
	auditEventSocialAccountLinked    = "social_account_linked"
	auditEventMagicLinkSent          = "magic_link_sent"
	auditEventMagicLinkSuccess       = "magic_link_success"
	auditEventMagicLinkFailure       = "magic_link_failure"
	auditEventValidationEmailSent    = "validation_email_sent"
	auditEventValidationConfirmed    = "validation_confirmed"
	auditEventValidationFailure      = "validation_failure"
	auditEventInvitationSent         = "invitation_sent"
	auditEventInvitationAccepted     = "invitation_accepted"
	auditEventInvitationFailure      = "invitation_failure"
	auditEventSessionRenewed         = "session_renewed"
	auditEventSessionRenewalRejected = "session_renewal_rejected"
	auditEventAccountCreated         = "account_created"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by authbroker APIs.
//
// AuditErrorCode instances are intended to be configured during initialization
// and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrChallengeExpired    AuditErrorCode = "challenge_expired"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrAccountConflict     AuditErrorCode = "account_conflict"
	auditErrAccountNotFound     AuditErrorCode = "account_not_found"
	auditErrRegistrationClosed  AuditErrorCode = "registration_disabled"
	auditErrFeatureDisabled     AuditErrorCode = "feature_disabled"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrNotifyFailed        AuditErrorCode = "notify_failed"
	auditErrSessionInvalid      AuditErrorCode = "session_invalid"
	auditErrUnknownProvider     AuditErrorCode = "unknown_provider"
	auditErrProviderUnavailable AuditErrorCode = "provider_unavailable"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrTOTPState           AuditErrorCode = "totp_state"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (b *Broker) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	factor string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if b == nil || b.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Factor:    factor,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	b.audit.Emit(ctx, event)
}

func (b *Broker) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	b.metricInc(MetricRateLimitHit)
	b.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrStepUpRequired):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountConflict):
		return auditErrAccountConflict
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrRegistrationDisabled):
		return auditErrRegistrationClosed
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrNotifyFailed):
		return auditErrNotifyFailed
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrUnknownProvider):
		return auditErrUnknownProvider
	case errors.Is(err, ErrProviderUnavailable):
		return auditErrProviderUnavailable
	case errors.Is(err, ErrTOTPAlreadyEnrolled),
		errors.Is(err, ErrTOTPNotEnrolled),
		errors.Is(err, ErrTOTPNotActive),
		errors.Is(err, ErrTOTPNotPending):
		return auditErrTOTPState
	case errors.Is(err, ErrPasswordFactorDisabled),
		errors.Is(err, ErrTOTPFeatureDisabled),
		errors.Is(err, ErrFidoFeatureDisabled),
		errors.Is(err, ErrWalletFeatureDisabled),
		errors.Is(err, ErrSocialFeatureDisabled),
		errors.Is(err, ErrMagicLinkFeatureDisabled),
		errors.Is(err, ErrInvitationFeatureDisabled):
		return auditErrFeatureDisabled
	case errors.Is(err, ErrRepositoryUnavailable),
		errors.Is(err, ErrBrokerNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
