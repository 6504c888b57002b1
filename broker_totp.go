package authbroker

import (
	"context"
	"time"
)

// AddTOTP starts a TOTP enrollment: a fresh secret is stored in pending
// state and returned with its provisioning URI. The enrollment does not
// count as a second factor until ConfirmTOTP proves the authenticator
// produces matching codes.
func (b *Broker) AddTOTP(ctx context.Context, accountID string) (*TOTPSetup, error) {
	if b == nil || b.accounts == nil || b.totp == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(account.TOTPSecret) > 0 && !account.TOTPPending {
		return nil, ErrTOTPAlreadyEnrolled
	}

	secret, secretBase32, err := b.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	account.TOTPSecret = secret
	account.TOTPPending = true
	account.TOTPLastCounter = 0
	if err := b.saveAccount(ctx, account); err != nil {
		return nil, err
	}

	b.emitAudit(ctx, auditEventTOTPSetupRequested, true, account.ID, "totp", nil, nil)

	return &TOTPSetup{
		SecretBase32: secretBase32,
		URI:          b.totp.ProvisionURI(secretBase32, account.Email),
	}, nil
}

// ConfirmTOTP promotes a pending enrollment to active on a valid code.
func (b *Broker) ConfirmTOTP(ctx context.Context, accountID, code string) error {
	if b == nil || b.accounts == nil || b.totp == nil {
		return ErrBrokerNotReady
	}
	if !b.config.TOTP.Enabled {
		return ErrTOTPFeatureDisabled
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if len(account.TOTPSecret) == 0 || !account.TOTPPending {
		return ErrTOTPNotPending
	}

	ok, counter, err := b.totp.VerifyCode(account.TOTPSecret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		b.metricInc(MetricTOTPFailure)
		b.emitAudit(ctx, auditEventTOTPFailure, false, account.ID, "totp", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"phase": "confirm",
			}
		})
		return ErrInvalidCredentials
	}

	account.TOTPPending = false
	account.TOTPLastCounter = counter
	if err := b.saveAccount(ctx, account); err != nil {
		return err
	}

	b.metricInc(MetricTOTPSuccess)
	b.emitAudit(ctx, auditEventTOTPEnabled, true, account.ID, "totp", nil, nil)
	return nil
}

// StepUpTOTP exchanges a totp_pending session token plus a valid code for
// a cleared token. The matched time-step counter must strictly exceed the
// last accepted one; a repeated code inside the skew window is treated as
// a replay and rejected with the generic credentials error.
func (b *Broker) StepUpTOTP(ctx context.Context, token, code string) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.totp == nil || b.jwtManager == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	claims, err := b.jwtManager.Parse(token)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	account, err := b.findAccountByID(ctx, claims.AccountID())
	if err != nil {
		return nil, err
	}
	if !totpActive(account) {
		return nil, ErrTOTPNotActive
	}

	ok, counter, err := b.totp.VerifyCode(account.TOTPSecret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		b.metricInc(MetricTOTPFailure)
		b.emitAudit(ctx, auditEventTOTPFailure, false, account.ID, "totp", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"phase": "step_up",
			}
		})
		return nil, ErrInvalidCredentials
	}
	if counter <= account.TOTPLastCounter {
		b.metricInc(MetricTOTPReplayDetected)
		b.emitAudit(ctx, auditEventTOTPReplayDetected, false, account.ID, "totp", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	account.TOTPLastCounter = counter
	if err := b.saveAccount(ctx, account); err != nil {
		return nil, err
	}

	result, err := b.issueSession(account, true)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricTOTPSuccess)
	b.emitAudit(ctx, auditEventTOTPSuccess, true, account.ID, "totp", nil, nil)
	return result, nil
}

// RemoveTOTP clears an enrollment. An active enrollment requires a valid
// current code; a pending one can be abandoned without proof.
func (b *Broker) RemoveTOTP(ctx context.Context, accountID, code string) error {
	if b == nil || b.accounts == nil || b.totp == nil {
		return ErrBrokerNotReady
	}
	if !b.config.TOTP.Enabled {
		return ErrTOTPFeatureDisabled
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if len(account.TOTPSecret) == 0 {
		return ErrTOTPNotEnrolled
	}

	if !account.TOTPPending {
		ok, counter, err := b.totp.VerifyCode(account.TOTPSecret, code, time.Now())
		if err != nil {
			return err
		}
		if !ok || counter <= account.TOTPLastCounter {
			b.metricInc(MetricTOTPFailure)
			b.emitAudit(ctx, auditEventTOTPFailure, false, account.ID, "totp", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{
					"phase": "remove",
				}
			})
			return ErrInvalidCredentials
		}
	}

	account.TOTPSecret = nil
	account.TOTPPending = false
	account.TOTPLastCounter = 0
	if err := b.saveAccount(ctx, account); err != nil {
		return err
	}

	b.emitAudit(ctx, auditEventTOTPDisabled, true, account.ID, "totp", nil, nil)
	return nil
}
