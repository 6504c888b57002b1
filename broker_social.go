package authbroker

import (
	"context"
	"strings"
)

// SocialRedirect returns the authorization URL of the named provider. The
// caller owns state generation and verification.
func (b *Broker) SocialRedirect(ctx context.Context, providerName, state string) (string, error) {
	if b == nil {
		return "", ErrBrokerNotReady
	}
	if !b.config.Social.Enabled {
		return "", ErrSocialFeatureDisabled
	}

	provider, ok := b.providers[strings.ToLower(providerName)]
	if !ok {
		return "", ErrUnknownProvider
	}

	return provider.RedirectURL(state), nil
}

// SocialCallback exchanges the authorization code, reconciles the provider
// identity onto an account, and issues a session.
func (b *Broker) SocialCallback(ctx context.Context, providerName, code string) (*LoginResult, error) {
	if b == nil || b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Social.Enabled {
		return nil, ErrSocialFeatureDisabled
	}

	name := strings.ToLower(providerName)
	provider, ok := b.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}

	identity, err := provider.Exchange(ctx, code)
	if err != nil || identity == nil || identity.ID == "" {
		b.metricInc(MetricSocialLoginFailure)
		b.emitAudit(ctx, auditEventSocialLoginFailure, false, "", name, ErrProviderUnavailable, nil)
		return nil, ErrProviderUnavailable
	}

	account, err := b.reconcileIdentity(ctx, externalIdentity{
		Provider:  name,
		ID:        identity.ID,
		Email:     identity.Email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Avatar:    identity.Avatar,
	}, b.config.Registration.Social)
	if err != nil {
		b.metricInc(MetricSocialLoginFailure)
		b.emitAudit(ctx, auditEventSocialLoginFailure, false, "", name, err, nil)
		return nil, err
	}

	result, err := b.issueSession(account, false)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricSocialLoginSuccess)
	b.emitAudit(ctx, auditEventSocialLoginSuccess, true, account.ID, name, nil, nil)
	return result, nil
}
