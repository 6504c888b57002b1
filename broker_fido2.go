package authbroker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/polyfactor/authbroker/internal/challenge"
)

// webauthnAccount adapts an Account to the webauthn user contract for the
// duration of one ceremony.
type webauthnAccount struct {
	account     *Account
	credentials []webauthn.Credential
}

func (u *webauthnAccount) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *webauthnAccount) WebAuthnName() string {
	if u.account.Email != "" {
		return u.account.Email
	}
	return u.account.ID
}

func (u *webauthnAccount) WebAuthnDisplayName() string {
	name := u.account.FirstName
	if u.account.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.account.LastName
	}
	if name == "" {
		return u.WebAuthnName()
	}
	return name
}

func (u *webauthnAccount) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// fidoCeremonyState rides in the challenge-store payload between the begin
// and finish halves of a ceremony.
type fidoCeremonyState struct {
	AccountID    string               `json:"account_id"`
	CredentialID string               `json:"credential_id"`
	Session      webauthn.SessionData `json:"session"`
}

func newWebauthnAccount(account *Account, registeredOnly bool) (*webauthnAccount, error) {
	u := &webauthnAccount{account: account}
	for i := range account.FidoCredentials {
		stored := &account.FidoCredentials[i]
		if !stored.Registered() {
			continue
		}
		var cred webauthn.Credential
		if err := json.Unmarshal(stored.Credential, &cred); err != nil {
			return nil, err
		}
		u.credentials = append(u.credentials, cred)
	}
	if registeredOnly && len(u.credentials) == 0 {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// BeginFidoRegistration opens a registration ceremony for the account. The
// returned options blob goes to the browser WebAuthn API unchanged; an
// incomplete credential slot is attached to the account and stays unusable
// until the ceremony finishes. Re-issuing a ceremony for the same account
// invalidates the prior one.
func (b *Broker) BeginFidoRegistration(ctx context.Context, accountID, deviceName string) (*FidoChallenge, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Fido.Enabled || b.webauthn == nil {
		return nil, ErrFidoFeatureDisabled
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	user, err := newWebauthnAccount(account, false)
	if err != nil {
		return nil, err
	}

	var exclusions []protocol.CredentialDescriptor
	for _, cred := range user.credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
		})
	}

	options, session, err := b.webauthn.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, err
	}

	ceremonyID := uuid.NewString()
	credentialID := uuid.NewString()

	state := fidoCeremonyState{
		AccountID:    account.ID,
		CredentialID: credentialID,
		Session:      *session,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	record := &challenge.Record{
		Purpose: challenge.PurposeFidoRegistration,
		Owner:   account.ID,
		Payload: payload,
	}
	if err := b.challenges.Issue(ctx, ceremonyID, record, b.config.Fido.CeremonyTTL); err != nil {
		return nil, err
	}

	account.FidoCredentials = append(account.FidoCredentials, FidoCredential{
		ID:         credentialID,
		DeviceName: deviceName,
	})
	if err := b.saveAccount(ctx, account); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	b.emitAudit(ctx, auditEventFidoRegisterBegin, true, account.ID, "fido2", nil, func() map[string]string {
		return map[string]string{
			"credential_id": credentialID,
		}
	})

	return &FidoChallenge{
		CeremonyID:   ceremonyID,
		CredentialID: credentialID,
		OptionsJSON:  optionsJSON,
	}, nil
}

// FinishFidoRegistration consumes the ceremony and verifies the attestation
// response. A crypto failure leaves the credential slot incomplete; the
// client restarts with a fresh ceremony.
func (b *Broker) FinishFidoRegistration(ctx context.Context, ceremonyID string, body []byte) error {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return ErrBrokerNotReady
	}
	if !b.config.Fido.Enabled || b.webauthn == nil {
		return ErrFidoFeatureDisabled
	}

	record, err := b.challenges.Consume(ctx, ceremonyID, challenge.PurposeFidoRegistration)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			b.metricInc(MetricFidoRegisterFailure)
			b.emitAudit(ctx, auditEventFidoRegisterFailure, false, "", "fido2", ErrChallengeExpired, nil)
			return ErrChallengeExpired
		}
		return err
	}

	var state fidoCeremonyState
	if err := json.Unmarshal(record.Payload, &state); err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		b.metricInc(MetricFidoRegisterFailure)
		b.emitAudit(ctx, auditEventFidoRegisterFailure, false, state.AccountID, "fido2", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	account, err := b.findAccountByID(ctx, state.AccountID)
	if err != nil {
		return err
	}
	slot := account.FidoCredentialByID(state.CredentialID)
	if slot == nil || slot.Registered() {
		return ErrChallengeExpired
	}

	user, err := newWebauthnAccount(account, false)
	if err != nil {
		return err
	}

	credential, err := b.webauthn.CreateCredential(user, state.Session, parsed)
	if err != nil {
		b.metricInc(MetricFidoRegisterFailure)
		b.emitAudit(ctx, auditEventFidoRegisterFailure, false, account.ID, "fido2", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"credential_id": state.CredentialID,
			}
		})
		return ErrInvalidCredentials
	}

	encoded, err := json.Marshal(credential)
	if err != nil {
		return err
	}
	slot.Credential = encoded
	slot.SignCount = credential.Authenticator.SignCount
	if err := b.saveAccount(ctx, account); err != nil {
		return err
	}

	b.metricInc(MetricFidoRegisterSuccess)
	b.emitAudit(ctx, auditEventFidoRegisterSuccess, true, account.ID, "fido2", nil, func() map[string]string {
		return map[string]string{
			"credential_id": state.CredentialID,
		}
	})
	return nil
}

// BeginFidoLogin opens an assertion ceremony scoped to one credential.
// Credentials that never completed registration cannot begin a login.
func (b *Broker) BeginFidoLogin(ctx context.Context, credentialID string) (*FidoChallenge, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Fido.Enabled || b.webauthn == nil {
		return nil, ErrFidoFeatureDisabled
	}

	account, err := b.accounts.FindByFidoCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, repoErr(err)
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}

	slot := account.FidoCredentialByID(credentialID)
	if slot == nil || !slot.Registered() {
		return nil, ErrInvalidCredentials
	}

	var stored webauthn.Credential
	if err := json.Unmarshal(slot.Credential, &stored); err != nil {
		return nil, err
	}

	user := &webauthnAccount{
		account:     account,
		credentials: []webauthn.Credential{stored},
	}

	options, session, err := b.webauthn.BeginLogin(user)
	if err != nil {
		return nil, err
	}

	ceremonyID := uuid.NewString()
	state := fidoCeremonyState{
		AccountID:    account.ID,
		CredentialID: credentialID,
		Session:      *session,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	record := &challenge.Record{
		Purpose: challenge.PurposeFidoLogin,
		Owner:   credentialID,
		Payload: payload,
	}
	if err := b.challenges.Issue(ctx, ceremonyID, record, b.config.Fido.CeremonyTTL); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	b.emitAudit(ctx, auditEventFidoLoginBegin, true, account.ID, "fido2", nil, func() map[string]string {
		return map[string]string{
			"credential_id": credentialID,
		}
	})

	return &FidoChallenge{
		CeremonyID:   ceremonyID,
		CredentialID: credentialID,
		OptionsJSON:  optionsJSON,
	}, nil
}

// FinishFidoLogin consumes the ceremony, verifies the assertion, enforces
// a strictly increasing signature counter, and issues a session. A stalled
// or cloned counter is indistinguishable from bad credentials at the API
// but leaves a distinct audit trail.
func (b *Broker) FinishFidoLogin(ctx context.Context, ceremonyID string, body []byte) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Fido.Enabled || b.webauthn == nil {
		return nil, ErrFidoFeatureDisabled
	}

	record, err := b.challenges.Consume(ctx, ceremonyID, challenge.PurposeFidoLogin)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			b.metricInc(MetricFidoLoginFailure)
			b.emitAudit(ctx, auditEventFidoLoginFailure, false, "", "fido2", ErrChallengeExpired, nil)
			return nil, ErrChallengeExpired
		}
		return nil, err
	}

	var state fidoCeremonyState
	if err := json.Unmarshal(record.Payload, &state); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		b.metricInc(MetricFidoLoginFailure)
		b.emitAudit(ctx, auditEventFidoLoginFailure, false, state.AccountID, "fido2", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	account, err := b.findAccountByID(ctx, state.AccountID)
	if err != nil {
		return nil, err
	}
	slot := account.FidoCredentialByID(state.CredentialID)
	if slot == nil || !slot.Registered() {
		return nil, ErrInvalidCredentials
	}

	var stored webauthn.Credential
	if err := json.Unmarshal(slot.Credential, &stored); err != nil {
		return nil, err
	}
	user := &webauthnAccount{
		account:     account,
		credentials: []webauthn.Credential{stored},
	}

	validated, err := b.webauthn.ValidateLogin(user, state.Session, parsed)
	if err != nil {
		b.metricInc(MetricFidoLoginFailure)
		b.emitAudit(ctx, auditEventFidoLoginFailure, false, account.ID, "fido2", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"credential_id": state.CredentialID,
			}
		})
		return nil, ErrInvalidCredentials
	}

	// A SignCount of zero means the authenticator does not implement a
	// counter, so zero is exempt from the strictly-increasing rule. Replay
	// of a counter-less assertion is still blocked by the single-use
	// ceremony challenge consumed above.
	newCount := validated.Authenticator.SignCount
	if validated.Authenticator.CloneWarning ||
		(newCount > 0 && newCount <= slot.SignCount) {
		b.metricInc(MetricFidoReplayDetected)
		b.emitAudit(ctx, auditEventFidoReplayDetected, false, account.ID, "fido2", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"credential_id": state.CredentialID,
			}
		})
		return nil, ErrInvalidCredentials
	}

	slot.SignCount = newCount
	if err := b.saveAccount(ctx, account); err != nil {
		return nil, err
	}

	result, err := b.issueSession(account, false)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricFidoLoginSuccess)
	b.emitAudit(ctx, auditEventFidoLoginSuccess, true, account.ID, "fido2", nil, func() map[string]string {
		return map[string]string{
			"credential_id": state.CredentialID,
		}
	})
	return result, nil
}
