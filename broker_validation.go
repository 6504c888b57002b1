package authbroker

import (
	"context"
	"fmt"

	"github.com/polyfactor/authbroker/internal/challenge"
)

// SendValidationEmail (re-)sends the email validation code. Codes have no
// expiry and stay usable until consumed or replaced by a newer send.
func (b *Broker) SendValidationEmail(ctx context.Context, accountID string) error {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return ErrBrokerNotReady
	}
	if b.mailer == nil {
		return ErrBrokerNotReady
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Validated {
		return nil
	}

	if b.rateLimiter != nil {
		if err := b.rateLimiter.CheckSend(ctx, account.ID); err != nil {
			b.emitRateLimit(ctx, "validation_email_send", func() map[string]string {
				return map[string]string{
					"account_id": account.ID,
				}
			})
			return ErrRateLimited
		}
	}

	code, err := b.issueCodeChallenge(ctx, account.ID, challenge.PurposeEmailValidation, 0)
	if err != nil {
		return err
	}

	if err := b.mailer.Send(ctx, account, "Confirm your email address", code); err != nil {
		b.emitAudit(ctx, auditEventValidationEmailSent, false, account.ID, "email", ErrNotifyFailed, nil)
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}

	b.metricInc(MetricValidationEmailSent)
	b.emitAudit(ctx, auditEventValidationEmailSent, true, account.ID, "email", nil, nil)
	return nil
}

// ConfirmValidation burns the code and marks the account email validated.
func (b *Broker) ConfirmValidation(ctx context.Context, code string) error {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return ErrBrokerNotReady
	}

	accountID, err := b.consumeCodeChallenge(ctx, code, challenge.PurposeEmailValidation)
	if err != nil {
		b.metricInc(MetricValidationFailure)
		b.emitAudit(ctx, auditEventValidationFailure, false, "", "email", err, nil)
		return err
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Validated {
		account.Validated = true
		if err := b.saveAccount(ctx, account); err != nil {
			return err
		}
	}

	b.metricInc(MetricValidationSuccess)
	b.emitAudit(ctx, auditEventValidationConfirmed, true, account.ID, "email", nil, nil)
	return nil
}

// sendValidationCode is the registration-time variant: same code issuance,
// but rate limiting is skipped because the account was created moments ago.
func (b *Broker) sendValidationCode(ctx context.Context, account *Account) error {
	code, err := b.issueCodeChallenge(ctx, account.ID, challenge.PurposeEmailValidation, 0)
	if err != nil {
		return err
	}
	if err := b.mailer.Send(ctx, account, "Confirm your email address", code); err != nil {
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	b.metricInc(MetricValidationEmailSent)
	b.emitAudit(ctx, auditEventValidationEmailSent, true, account.ID, "email", nil, nil)
	return nil
}
