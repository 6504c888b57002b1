package authbroker

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/polyfactor/authbroker/internal/audit"
	"github.com/polyfactor/authbroker/internal/challenge"
	"github.com/polyfactor/authbroker/internal/rate"
	"github.com/polyfactor/authbroker/jwt"
	"github.com/polyfactor/authbroker/password"
	"github.com/polyfactor/authbroker/social"
)

// Broker defines a public type used by authbroker APIs.
//
// Broker instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Broker struct {
	config       Config
	accounts     AccountRepository
	mailer       Mailer
	challenges   *challenge.Store
	rateLimiter  *rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	totp         *totpManager
	jwtManager   *jwt.Manager
	webauthn     *webauthn.WebAuthn
	providers    map[string]social.Provider
}

// Close describes the close operation and its observable behavior.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	if b.audit != nil {
		b.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
func (b *Broker) AuditDropped() uint64 {
	if b == nil || b.audit == nil {
		return 0
	}
	return b.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
func (b *Broker) MetricsSnapshot() MetricsSnapshot {
	if b == nil || b.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return b.metrics.Snapshot()
}

func (b *Broker) metricInc(id MetricID) {
	if b == nil || b.metrics == nil {
		return
	}
	b.metrics.Inc(id)
}

// issueSession signs a session token for account. totpSatisfied reports
// whether the factor that just succeeded counts as a TOTP proof; when false
// and the account has an active enrollment the token carries the
// totp_pending flag and must be stepped up before it grants access.
func (b *Broker) issueSession(account *Account, totpSatisfied bool) (*LoginResult, error) {
	if b == nil || b.jwtManager == nil || account == nil {
		return nil, ErrBrokerNotReady
	}

	totpPending := false
	if b.config.TOTP.Enabled && !totpSatisfied {
		totpPending = totpActive(account)
	}

	validationPending := b.config.Validation.Required && !account.Validated

	token, err := b.jwtManager.Issue(account.ID, account.Scopes, totpPending, validationPending)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricSessionIssued)

	return &LoginResult{
		Token:             token,
		AccountID:         account.ID,
		TOTPPending:       totpPending,
		ValidationPending: validationPending,
	}, nil
}

// totpActive reports whether the account has a confirmed TOTP enrollment.
func totpActive(account *Account) bool {
	return account != nil && len(account.TOTPSecret) > 0 && !account.TOTPPending
}

// repoErr normalizes repository failures: the not-found sentinel passes
// through untouched, anything else becomes the retryable unavailable
// sentinel with the cause attached.
func repoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAccountConflict) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
}

func (b *Broker) findAccountByID(ctx context.Context, id string) (*Account, error) {
	if b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	account, err := b.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, repoErr(err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (b *Broker) findAccountByEmail(ctx context.Context, email string) (*Account, error) {
	if b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	account, err := b.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, repoErr(err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (b *Broker) saveAccount(ctx context.Context, account *Account) error {
	if b.accounts == nil {
		return ErrBrokerNotReady
	}
	return repoErr(b.accounts.Save(ctx, account))
}
