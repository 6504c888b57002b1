package authbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polyfactor/authbroker/internal/challenge"
)

// SendMagicLink emails a single-use login code to the account behind
// email. An unknown address reports success without sending anything, so
// the endpoint does not leak which addresses have accounts. Re-sending
// invalidates any earlier unconsumed code.
func (b *Broker) SendMagicLink(ctx context.Context, email string) error {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return ErrBrokerNotReady
	}
	if !b.config.MagicLink.Enabled {
		return ErrMagicLinkFeatureDisabled
	}
	if b.mailer == nil {
		return ErrBrokerNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrInvalidCredentials
	}

	account, err := b.findAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			b.emitAudit(ctx, auditEventMagicLinkSent, true, "", "magiclink", nil, func() map[string]string {
				return map[string]string{
					"enumeration_safe": "true",
				}
			})
			return nil
		}
		return err
	}

	if b.rateLimiter != nil {
		if err := b.rateLimiter.CheckSend(ctx, account.ID); err != nil {
			b.emitRateLimit(ctx, "magic_link_send", func() map[string]string {
				return map[string]string{
					"account_id": account.ID,
				}
			})
			return ErrRateLimited
		}
	}

	code, err := b.issueCodeChallenge(ctx, account.ID, challenge.PurposeMagicLink, b.config.MagicLink.TTL)
	if err != nil {
		return err
	}

	body := code
	if b.config.MagicLink.BaseURL != "" {
		body = b.config.MagicLink.BaseURL + code
	}
	if err := b.mailer.Send(ctx, account, "Your sign-in link", body); err != nil {
		b.emitAudit(ctx, auditEventMagicLinkSent, false, account.ID, "magiclink", ErrNotifyFailed, nil)
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}

	b.metricInc(MetricMagicLinkSent)
	b.emitAudit(ctx, auditEventMagicLinkSent, true, account.ID, "magiclink", nil, nil)
	return nil
}

// ConfirmMagicLink burns the code and issues a session. Possession of the
// mailbox counts as a full factor, so the token never carries the TOTP
// pending flag; the email validation flag still reflects account state.
func (b *Broker) ConfirmMagicLink(ctx context.Context, code string) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.MagicLink.Enabled {
		return nil, ErrMagicLinkFeatureDisabled
	}

	accountID, err := b.consumeCodeChallenge(ctx, code, challenge.PurposeMagicLink)
	if err != nil {
		b.metricInc(MetricMagicLinkFailure)
		b.emitAudit(ctx, auditEventMagicLinkFailure, false, "", "magiclink", err, nil)
		return nil, err
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result, err := b.issueSession(account, true)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricMagicLinkSuccess)
	b.emitAudit(ctx, auditEventMagicLinkSuccess, true, account.ID, "magiclink", nil, nil)
	return result, nil
}
