package authbroker

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/polyfactor/authbroker/password"
)

// Register creates a password account and returns its first session token.
// When email validation is required the validation code is sent immediately
// and the token carries the email_validation_pending flag.
func (b *Broker) Register(ctx context.Context, email, plaintext, firstName, lastName string) (*LoginResult, error) {
	if b == nil || b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Password.Enabled {
		return nil, ErrPasswordFactorDisabled
	}
	if !b.config.Registration.Password {
		b.emitAudit(ctx, auditEventRegisterFailure, false, "", "password", ErrRegistrationDisabled, nil)
		return nil, ErrRegistrationDisabled
	}
	if b.passwordHash == nil {
		return nil, ErrBrokerNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := b.passwordHash.Hash(plaintext)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			b.metricInc(MetricRegisterFailure)
			b.emitAudit(ctx, auditEventRegisterFailure, false, "", "password", ErrPasswordPolicy, nil)
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	}

	created, err := b.accounts.Create(ctx, account)
	if err != nil {
		mapped := repoErr(err)
		b.metricInc(MetricRegisterFailure)
		b.emitAudit(ctx, auditEventRegisterFailure, false, "", "password", mapped, func() map[string]string {
			return map[string]string{
				"email": email,
			}
		})
		return nil, mapped
	}
	if created == nil {
		return nil, ErrRepositoryUnavailable
	}

	b.metricInc(MetricRegisterSuccess)
	b.metricInc(MetricAccountCreated)
	b.emitAudit(ctx, auditEventRegisterSuccess, true, created.ID, "password", nil, nil)

	if b.config.Validation.Required && b.mailer != nil {
		// Best effort: the account exists either way, and the code can be
		// re-sent through SendValidationEmail.
		if err := b.sendValidationCode(ctx, created); err != nil {
			log.Print("authbroker: validation email send failed during registration")
		}
	}

	return b.issueSession(created, false)
}

// Login verifies an email+password pair. Unknown accounts and wrong
// passwords are indistinguishable to the caller.
func (b *Broker) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if b == nil || b.accounts == nil {
		return nil, ErrBrokerNotReady
	}
	if !b.config.Password.Enabled {
		return nil, ErrPasswordFactorDisabled
	}
	if b.passwordHash == nil {
		return nil, ErrBrokerNotReady
	}

	ip := clientIPFromContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	if b.rateLimiter != nil {
		if err := b.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
			b.metricInc(MetricLoginRateLimited)
			b.emitAudit(ctx, auditEventLoginRateLimited, false, "", "password", ErrRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": email,
				}
			})
			b.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": email,
				}
			})
			return nil, ErrRateLimited
		}
	}

	if email == "" || plaintext == "" {
		return nil, b.failLogin(ctx, email, ip, "", "empty_input")
	}

	account, err := b.findAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, b.failLogin(ctx, email, ip, "", "account_not_found")
		}
		return nil, err
	}
	if account.PasswordHash == "" {
		return nil, b.failLogin(ctx, email, ip, account.ID, "no_password_factor")
	}

	ok, err := b.passwordHash.Verify(plaintext, account.PasswordHash)
	if err != nil || !ok {
		return nil, b.failLogin(ctx, email, ip, account.ID, "password_mismatch")
	}

	if b.config.Password.UpgradeOnLogin {
		if needs, err := b.passwordHash.NeedsRehash(account.PasswordHash); err == nil && needs {
			if upgraded, err := b.passwordHash.Hash(plaintext); err == nil {
				account.PasswordHash = upgraded
				// Rehash persistence is best-effort and must not block a
				// successful login.
				if err := b.saveAccount(ctx, account); err != nil {
					log.Print("authbroker: password hash upgrade update failed")
				}
			} else {
				log.Print("authbroker: password hash upgrade generation failed")
			}
		}
	}
	plaintext = ""

	if b.rateLimiter != nil {
		if err := b.rateLimiter.ResetLogin(ctx, email, ip); err != nil {
			log.Print("authbroker: login rate counter reset failed")
		}
	}

	result, err := b.issueSession(account, false)
	if err != nil {
		return nil, err
	}

	b.metricInc(MetricLoginSuccess)
	b.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "password", nil, nil)
	return result, nil
}

// UpdatePassword replaces the account password hash. When the
// RequireOldForUpdate policy is set the current password must verify first.
func (b *Broker) UpdatePassword(ctx context.Context, accountID, oldPlaintext, newPlaintext string) error {
	if b == nil || b.accounts == nil {
		return ErrBrokerNotReady
	}
	if !b.config.Password.Enabled || b.passwordHash == nil {
		return ErrPasswordFactorDisabled
	}

	account, err := b.findAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	if b.config.Password.RequireOldForUpdate && account.PasswordHash != "" {
		ok, err := b.passwordHash.Verify(oldPlaintext, account.PasswordHash)
		if err != nil || !ok {
			b.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "password", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{
					"reason": "old_password_mismatch",
				}
			})
			return ErrInvalidCredentials
		}
	}

	hash, err := b.passwordHash.Hash(newPlaintext)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			b.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "password", ErrPasswordPolicy, nil)
			return ErrPasswordPolicy
		}
		return err
	}

	account.PasswordHash = hash
	if err := b.saveAccount(ctx, account); err != nil {
		b.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "password", err, nil)
		return err
	}

	b.emitAudit(ctx, auditEventPasswordChangeSuccess, true, account.ID, "password", nil, nil)
	return nil
}

// failLogin burns a login attempt and returns the uniform credentials
// error. Rate limiter exhaustion takes precedence over the generic error.
func (b *Broker) failLogin(ctx context.Context, identifier, ip, accountID, reason string) error {
	if b.rateLimiter != nil {
		if err := b.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
			b.metricInc(MetricLoginRateLimited)
			b.emitAudit(ctx, auditEventLoginRateLimited, false, accountID, "password", ErrRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			b.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			return ErrRateLimited
		}
	}

	b.metricInc(MetricLoginFailure)
	b.emitAudit(ctx, auditEventLoginFailure, false, accountID, "password", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}
