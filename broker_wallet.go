package authbroker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/polyfactor/authbroker/internal"
	"github.com/polyfactor/authbroker/internal/challenge"
)

const walletNonceBytes = 16

// WalletNonce issues a single-use signing challenge. The client must sign
// exactly the returned message with the wallet key it claims.
func (b *Broker) WalletNonce(ctx context.Context) (*WalletChallenge, error) {
	if b == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Wallet.Enabled {
		return nil, ErrWalletFeatureDisabled
	}

	requestID := uuid.NewString()
	nonce, err := internal.NewNonce(walletNonceBytes)
	if err != nil {
		return nil, err
	}

	record := &challenge.Record{
		Purpose: challenge.PurposeWalletNonce,
		Payload: []byte(nonce),
	}
	if err := b.challenges.Issue(ctx, requestID, record, b.config.Wallet.NonceTTL); err != nil {
		return nil, err
	}

	b.emitAudit(ctx, auditEventWalletNonceIssued, true, "", "wallet", nil, func() map[string]string {
		return map[string]string{
			"request_id": requestID,
		}
	})

	return &WalletChallenge{
		RequestID: requestID,
		Nonce:     nonce,
		Message:   b.walletMessage(nonce, requestID),
	}, nil
}

// WalletLogin consumes the nonce, recovers the signer from the signature,
// and reconciles the recovered address onto an account. The nonce burns on
// first use whether or not the signature checks out.
func (b *Broker) WalletLogin(ctx context.Context, requestID, address, signature string) (*LoginResult, error) {
	if b == nil || b.accounts == nil || b.challenges == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Wallet.Enabled {
		return nil, ErrWalletFeatureDisabled
	}

	record, err := b.challenges.Consume(ctx, requestID, challenge.PurposeWalletNonce)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			b.metricInc(MetricWalletLoginFailure)
			b.emitAudit(ctx, auditEventWalletLoginFailure, false, "", "wallet", ErrChallengeExpired, func() map[string]string {
				return map[string]string{
					"request_id": requestID,
				}
			})
			return nil, ErrChallengeExpired
		}
		return nil, err
	}

	nonce := string(record.Payload)
	recovered, err := recoverWalletAddress(b.walletMessage(nonce, requestID), signature)
	if err != nil || !strings.EqualFold(recovered, address) {
		b.metricInc(MetricWalletLoginFailure)
		b.emitAudit(ctx, auditEventWalletLoginFailure, false, "", "wallet", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"request_id": requestID,
			}
		})
		return nil, ErrInvalidCredentials
	}

	account, err := b.reconcileIdentity(ctx, externalIdentity{
		Provider: ProviderEthereum,
		ID:       strings.ToLower(recovered),
	}, b.config.Registration.Wallet)
	if err != nil {
		b.metricInc(MetricWalletLoginFailure)
		b.emitAudit(ctx, auditEventWalletLoginFailure, false, "", "wallet", err, nil)
		return nil, err
	}

	result, err := b.issueSession(account, false)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricWalletLoginSuccess)
	b.emitAudit(ctx, auditEventWalletLoginSuccess, true, account.ID, "wallet", nil, nil)
	return result, nil
}

// walletMessage builds the exact text a wallet must sign for one nonce and
// request id. Verification rebuilds it byte for byte; any drift between
// issue and verify breaks every login.
func (b *Broker) walletMessage(nonce, requestID string) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account.\n\nNonce: %s\nRequest ID: %s",
		b.config.Service.Name, nonce, requestID,
	)
}

// recoverWalletAddress applies the personal_sign envelope to message and
// recovers the checksummed address from the 65-byte signature.
func recoverWalletAddress(message, signature string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", err
	}
	if len(raw) != ethcrypto.SignatureLength {
		return "", errors.New("invalid signature length")
	}

	sig := make([]byte, len(raw))
	copy(sig, raw)
	// Wallets emit the legacy 27/28 recovery byte; go-ethereum wants 0/1.
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := ethcrypto.Keccak256([]byte(prefixed))

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", err
	}

	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}
