package authbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/polyfactor/authbroker/internal/challenge"
	"github.com/polyfactor/authbroker/password"
)

// Invite pre-provisions an account for email and issues a single-use
// acceptance code, delivered through the mailer when one is configured.
// A delivery failure still returns the invitation alongside
// [ErrNotifyFailed]; the code stays valid and can be handed over through
// another channel.
func (b *Broker) Invite(ctx context.Context, email, firstName, lastName string, scopes []string) (*Invitation, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Invitation.Enabled {
		return nil, ErrInvitationFeatureDisabled
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	account := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Scopes:    append([]string(nil), scopes...),
		Invited:   true,
	}

	created, err := b.accounts.Create(ctx, account)
	if err != nil {
		mapped := repoErr(err)
		b.emitAudit(ctx, auditEventInvitationFailure, false, "", "invitation", mapped, func() map[string]string {
			return map[string]string{
				"email": email,
			}
		})
		return nil, mapped
	}
	if created == nil {
		return nil, ErrRepositoryUnavailable
	}

	code, err := b.issueCodeChallenge(ctx, created.ID, challenge.PurposeInvitation, 0)
	if err != nil {
		return nil, err
	}

	invitation := &Invitation{
		AccountID: created.ID,
		Code:      code,
	}

	b.metricInc(MetricInvitationSent)
	b.metricInc(MetricAccountCreated)
	b.emitAudit(ctx, auditEventInvitationSent, true, created.ID, "invitation", nil, nil)

	if b.mailer != nil {
		if err := b.mailer.Send(ctx, created, "You have been invited", code); err != nil {
			return invitation, fmt.Errorf("%w: %v", ErrNotifyFailed, err)
		}
	}

	return invitation, nil
}

// AcceptInvitation burns the code, optionally sets a password, marks the
// email validated, and issues the first session. Acceptance proves mailbox
// control, so the token skips the TOTP pending flag like a magic link.
func (b *Broker) AcceptInvitation(ctx context.Context, code, plaintext string) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Invitation.Enabled {
		return nil, ErrInvitationFeatureDisabled
	}

	accountID, err := b.consumeCodeChallenge(ctx, code, challenge.PurposeInvitation)
	if err != nil {
		b.metricInc(MetricInvitationFailure)
		b.emitAudit(ctx, auditEventInvitationFailure, false, "", "invitation", err, nil)
		return nil, err
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if plaintext != "" {
		if b.passwordHash == nil {
			return nil, ErrPasswordFactorDisabled
		}
		hash, err := b.passwordHash.Hash(plaintext)
		if err != nil {
			if errors.Is(err, password.ErrPolicy) {
				return nil, ErrPasswordPolicy
			}
			return nil, err
		}
		account.PasswordHash = hash
	}

	account.Invited = false
	account.Validated = true
	if err := b.saveAccount(ctx, account); err != nil {
		return nil, err
	}

	result, err := b.issueSession(account, true)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricInvitationAccepted)
	b.emitAudit(ctx, auditEventInvitationAccepted, true, account.ID, "invitation", nil, nil)
	return result, nil
}
