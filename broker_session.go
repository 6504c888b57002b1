package authbroker

import (
	"context"
	"time"

	"github.com/polyfactor/authbroker/jwt"
)

// VerifySession parses and verifies a session token. Callers must still
// honor the pending flags on the returned claims; a totp_pending token is
// verified but not fully authenticated.
func (b *Broker) VerifySession(token string) (*jwt.SessionClaims, error) {
	if b == nil || b.jwtManager == nil {
		return nil, ErrBrokerNotReady
	}

	start := time.Now()
	claims, err := b.jwtManager.Parse(token)
	if b.metrics != nil {
		b.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		b.metricInc(MetricSessionRejected)
		return nil, ErrSessionInvalid
	}

	return claims, nil
}

// RenewSession re-issues a token for a still-valid session, recomputing
// both pending flags from current account state. A renewal never clears a
// TOTP requirement: an enrolled account gets totp_pending back and must
// step up again.
func (b *Broker) RenewSession(ctx context.Context, token string) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.jwtManager == nil {
		return nil, ErrBrokerNotReady
	}

	claims, err := b.jwtManager.Parse(token)
	if err != nil {
		b.metricInc(MetricSessionRejected)
		b.emitAudit(ctx, auditEventSessionRenewalRejected, false, "", "", ErrSessionInvalid, nil)
		return nil, ErrSessionInvalid
	}

	account, err := b.findAccountByID(ctx, claims.AccountID())
	if err != nil {
		return nil, err
	}

	result, err := b.issueSession(account, false)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricSessionRenewed)
	b.emitAudit(ctx, auditEventSessionRenewed, true, account.ID, "", nil, nil)
	return result, nil
}
