package authbroker

import (
	"context"
)

// ProviderEthereum is the reconciler provider key used for wallet logins.
// Social providers register under their own names ("google", "facebook", ...).
const ProviderEthereum = "ethereum"

// Account is the durable principal consulted and mutated by the broker.
// The broker never deletes accounts; every successful verification mutates
// at most the fields belonging to the factor that was used.
//
// Account instances are intended to be loaded from and stored through an
// [AccountRepository]; the broker treats them as plain data.
type Account struct {
	ID        string
	Email     string
	Validated bool

	FirstName string
	LastName  string
	Avatar    string

	// Scopes are opaque access-scope strings carried into token claims.
	// The broker emits them; it never interprets them.
	Scopes []string

	PasswordHash string

	TOTPSecret      []byte
	TOTPPending     bool
	TOTPLastCounter int64

	FidoCredentials []FidoCredential

	// ExternalIDs maps a provider name to the verified external identity
	// bound to this account. Wallet addresses live under ProviderEthereum
	// in lowercase hex form. Uniqueness across accounts is an invariant
	// the reconciler preserves and the repository must enforce on Create.
	ExternalIDs map[string]string

	Invited bool
}

// FidoCredential is a FIDO2 authenticator bound (or being bound) to an
// account. A credential with no Credential bytes never completed
// registration and must not authenticate.
type FidoCredential struct {
	ID         string
	DeviceName string

	// Credential holds the marshaled webauthn credential (public key,
	// flags, attestation type) and is set only after a successful
	// registration ceremony.
	Credential []byte

	// SignCount mirrors the authenticator signature counter and is
	// strictly increasing across successful assertions.
	SignCount uint32
}

// Registered reports whether the registration ceremony for this credential
// completed and the public key is on file.
func (c *FidoCredential) Registered() bool {
	return c != nil && len(c.Credential) > 0
}

// ExternalID returns the external identity bound for provider, if any.
func (a *Account) ExternalID(provider string) (string, bool) {
	if a == nil || a.ExternalIDs == nil {
		return "", false
	}
	id, ok := a.ExternalIDs[provider]
	return id, ok
}

// SetExternalID binds an external identity to the account in memory.
// Persistence is the caller's responsibility.
func (a *Account) SetExternalID(provider, id string) {
	if a.ExternalIDs == nil {
		a.ExternalIDs = make(map[string]string, 1)
	}
	a.ExternalIDs[provider] = id
}

// FidoCredentialByID returns the account credential with the given id.
func (a *Account) FidoCredentialByID(id string) *FidoCredential {
	if a == nil {
		return nil
	}
	for i := range a.FidoCredentials {
		if a.FidoCredentials[i].ID == id {
			return &a.FidoCredentials[i]
		}
	}
	return nil
}

// AccountRepository is the interface callers must implement to give the
// broker durable account storage. Lookup methods return
// [ErrAccountNotFound] when no account matches; any transport or storage
// failure should be returned as-is and is surfaced to API callers as
// [ErrRepositoryUnavailable].
//
// Create must reject an email or external identity that is already bound
// to another account by returning [ErrAccountConflict].
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByExternalID(ctx context.Context, provider, externalID string) (*Account, error)
	FindByFidoCredential(ctx context.Context, credentialID string) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	Save(ctx context.Context, account *Account) error
}

// Mailer delivers outbound email on behalf of the broker. Failures are
// surfaced as [ErrNotifyFailed] without rolling back the state change that
// triggered the mail; re-sending is the remediation.
type Mailer interface {
	Send(ctx context.Context, account *Account, subject, body string) error
}

// LoginResult is returned by every flow that ends in a session token.
// When TOTPPending is true the token must not be accepted as fully
// authenticated until [Broker.StepUpTOTP] clears it.
type LoginResult struct {
	Token             string
	AccountID         string
	TOTPPending       bool
	ValidationPending bool
}

// TOTPSetup holds the base32-encoded TOTP secret and otpauth:// URI
// returned by [Broker.AddTOTP].
type TOTPSetup struct {
	SecretBase32 string
	URI          string
}

// FidoChallenge is returned by [Broker.BeginFidoRegistration] and
// [Broker.BeginFidoLogin]. OptionsJSON is the credential creation or
// request options blob to hand to the browser's WebAuthn API unchanged.
type FidoChallenge struct {
	CeremonyID   string
	CredentialID string
	OptionsJSON  []byte
}

// WalletChallenge is returned by [Broker.WalletNonce]. The client must sign
// exactly the message produced for this nonce and request id; any other
// text fails verification.
type WalletChallenge struct {
	RequestID string
	Nonce     string
	Message   string
}

// Invitation is returned by [Broker.Invite]. Code is the single-use
// invitation token; it is also delivered through the configured Mailer
// when one is present.
type Invitation struct {
	AccountID string
	Code      string
}
