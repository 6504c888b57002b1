package authbroker

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// externalIdentity is a verified identity handed to the reconciler. The
// caller has already proven control of it (signature check, provider
// exchange); the reconciler only resolves which account it belongs to.
type externalIdentity struct {
	Provider  string
	ID        string
	Email     string
	FirstName string
	LastName  string
	Avatar    string
}

// reconcileIdentity maps a verified external identity onto exactly one
// account, in this order: existing binding, email match (the identity gets
// attached and the email counts as validated), fresh account when
// allowCreate permits it. The operation is idempotent; replaying the same
// identity converges on the same account.
func (b *Broker) reconcileIdentity(ctx context.Context, ident externalIdentity, allowCreate bool) (*Account, error) {
	if b == nil || b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	if ident.Provider == "" || ident.ID == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := b.accounts.FindByExternalID(ctx, ident.Provider, ident.ID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, repoErr(err)
	}
	if account != nil {
		return account, nil
	}

	email := strings.ToLower(strings.TrimSpace(ident.Email))
	if email != "" {
		account, err = b.accounts.FindByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return nil, repoErr(err)
		}
		if account != nil {
			if existing, ok := account.ExternalID(ident.Provider); ok && existing != ident.ID {
				return nil, ErrAccountConflict
			}
			account.SetExternalID(ident.Provider, ident.ID)
			// The provider vouched for the address, so the email counts
			// as validated from here on.
			account.Validated = true
			fillProfile(account, ident)
			if err := b.saveAccount(ctx, account); err != nil {
				return nil, err
			}
			b.metricInc(MetricAccountLinked)
			b.emitAudit(ctx, auditEventSocialAccountLinked, true, account.ID, ident.Provider, nil, nil)
			return account, nil
		}
	}

	if !allowCreate {
		return nil, ErrRegistrationDisabled
	}

	account = &Account{
		ID:        uuid.NewString(),
		Email:     email,
		Validated: email != "",
		FirstName: ident.FirstName,
		LastName:  ident.LastName,
		Avatar:    ident.Avatar,
	}
	account.SetExternalID(ident.Provider, ident.ID)

	created, err := b.accounts.Create(ctx, account)
	if err != nil {
		return nil, repoErr(err)
	}
	if created == nil {
		return nil, ErrRepositoryUnavailable
	}

	b.metricInc(MetricAccountCreated)
	b.emitAudit(ctx, auditEventAccountCreated, true, created.ID, ident.Provider, nil, nil)
	return created, nil
}

func fillProfile(account *Account, ident externalIdentity) {
	if account.FirstName == "" {
		account.FirstName = ident.FirstName
	}
	if account.LastName == "" {
		account.LastName = ident.LastName
	}
	if account.Avatar == "" {
		account.Avatar = ident.Avatar
	}
}
