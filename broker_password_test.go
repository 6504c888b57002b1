package authbroker

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterIssuesSessionAndPersistsAccount(t *testing.T) {
	tb := newTestBroker(t, nil)

	result, err := tb.broker.Register(context.Background(), "Alice@Example.com", "correct-horse", "Alice", "Smith")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.Token == "" || result.AccountID == "" {
		t.Fatal("expected token and account id")
	}
	if result.TOTPPending || result.ValidationPending {
		t.Fatal("expected no pending flags on fresh registration")
	}

	account := tb.repo.get(t, result.AccountID)
	if account.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", account.Email)
	}
	if account.PasswordHash == "" {
		t.Fatal("expected stored password hash")
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	tb := newTestBroker(t, nil)

	_, err := tb.broker.Register(context.Background(), "bob@example.com", "tiny", "", "")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	tb := newTestBroker(t, nil)
	tb.registerAccount(t, "carol@example.com", "correct-horse")

	_, err := tb.broker.Register(context.Background(), "carol@example.com", "correct-horse", "", "")
	if !errors.Is(err, ErrAccountConflict) {
		t.Fatalf("expected ErrAccountConflict, got %v", err)
	}
}

func TestRegisterDisabledByPolicy(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.Registration.Password = false
	})

	_, err := tb.broker.Register(context.Background(), "dave@example.com", "correct-horse", "", "")
	if !errors.Is(err, ErrRegistrationDisabled) {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
}

func TestRegisterWithValidationRequiredSendsCodeAndFlagsToken(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.Validation.Required = true
	})

	result, err := tb.broker.Register(context.Background(), "eve@example.com", "correct-horse", "", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !result.ValidationPending {
		t.Fatal("expected email_validation_pending on unvalidated account")
	}
	if tb.mailer.count() != 1 {
		t.Fatalf("expected one validation email, got %d", tb.mailer.count())
	}

	claims, err := tb.broker.VerifySession(result.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !claims.ValidationPending {
		t.Fatal("expected pending flag inside token claims")
	}
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	tb := newTestBroker(t, nil)
	account := tb.registerAccount(t, "alice@example.com", "correct-horse")

	result, err := tb.broker.Login(context.Background(), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.AccountID != account.ID {
		t.Fatalf("expected account %s, got %s", account.ID, result.AccountID)
	}

	claims, err := tb.broker.VerifySession(result.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.AccountID() != account.ID {
		t.Fatal("token subject mismatch")
	}
}

func TestLoginUniformErrorForUnknownAccountAndBadPassword(t *testing.T) {
	tb := newTestBroker(t, nil)
	tb.registerAccount(t, "alice@example.com", "correct-horse")

	_, unknownErr := tb.broker.Login(context.Background(), "nobody@example.com", "correct-horse")
	_, wrongErr := tb.broker.Login(context.Background(), "alice@example.com", "wrong-horse")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown account: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatal("expected indistinguishable errors for unknown account and bad password")
	}
}

func TestLoginRejectsEmptyPassword(t *testing.T) {
	tb := newTestBroker(t, nil)
	tb.registerAccount(t, "alice@example.com", "correct-horse")

	_, err := tb.broker.Login(context.Background(), "alice@example.com", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginSetsTOTPPendingForEnrolledAccount(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.TOTP.Enabled = true
	})
	account := tb.registerAccount(t, "alice@example.com", "correct-horse")

	// Active enrollment: secret present, pending cleared.
	account.TOTPSecret = []byte("12345678901234567890")
	account.TOTPPending = false
	tb.repo.put(account)

	result, err := tb.broker.Login(context.Background(), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !result.TOTPPending {
		t.Fatal("expected totp_pending for enrolled account")
	}
}

func TestLoginRateLimited(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxLoginAttempts = 2
	})
	tb.registerAccount(t, "alice@example.com", "correct-horse")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := tb.broker.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := tb.broker.Login(ctx, "alice@example.com", "correct-horse")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after exhausting attempts, got %v", err)
	}
}

func TestLoginResetsRateCounterOnSuccess(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxLoginAttempts = 3
	})
	tb.registerAccount(t, "alice@example.com", "correct-horse")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = tb.broker.Login(ctx, "alice@example.com", "wrong-horse")
	}
	if _, err := tb.broker.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("login within budget failed: %v", err)
	}

	// Counter reset: two more failures stay under the fresh budget.
	for i := 0; i < 2; i++ {
		if _, err := tb.broker.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
}

func TestUpdatePasswordRequiresOldWhenConfigured(t *testing.T) {
	tb := newTestBroker(t, func(cfg *Config) {
		cfg.Password.RequireOldForUpdate = true
	})
	account := tb.registerAccount(t, "alice@example.com", "correct-horse")

	ctx := context.Background()
	if err := tb.broker.UpdatePassword(ctx, account.ID, "wrong-horse", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong old password, got %v", err)
	}

	if err := tb.broker.UpdatePassword(ctx, account.ID, "correct-horse", "new-password"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := tb.broker.Login(ctx, "alice@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
	if _, err := tb.broker.Login(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should no longer verify, got %v", err)
	}
}

func TestUpdatePasswordEnforcesPolicy(t *testing.T) {
	tb := newTestBroker(t, nil)
	account := tb.registerAccount(t, "alice@example.com", "correct-horse")

	err := tb.broker.UpdatePassword(context.Background(), account.ID, "", "tiny")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestLoginRepositoryOutageSurfacesAsUnavailable(t *testing.T) {
	tb := newTestBroker(t, nil)
	tb.registerAccount(t, "alice@example.com", "correct-horse")

	tb.repo.failNext = errors.New("connection refused")
	_, err := tb.broker.Login(context.Background(), "alice@example.com", "correct-horse")
	if !errors.Is(err, ErrRepositoryUnavailable) {
		t.Fatalf("expected ErrRepositoryUnavailable, got %v", err)
	}
}
