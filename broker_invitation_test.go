package authbroker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func invitationTestBroker(t *testing.T) *testBroker {
	t.Helper()
	return newTestBroker(t, func(cfg *Config) {
		cfg.Invitation.Enabled = true
	})
}

func TestInviteCreatesPendingAccountAndMailsCode(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "Guest@Example.com", "Guest", "User", []string{"reports:read"})
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if invitation.Code == "" {
		t.Fatal("expected acceptance code")
	}

	account := tb.repo.get(t, invitation.AccountID)
	if account.Email != "guest@example.com" {
		t.Fatalf("email = %q, want lowercased", account.Email)
	}
	if !account.Invited {
		t.Fatal("account not flagged as invited")
	}
	if account.Validated {
		t.Fatal("account validated before acceptance")
	}
	if len(account.Scopes) != 1 || account.Scopes[0] != "reports:read" {
		t.Fatalf("scopes = %v", account.Scopes)
	}

	if tb.mailer.lastBody(t) != invitation.Code {
		t.Fatal("mailed body must carry the acceptance code")
	}
}

func TestAcceptInvitationWithPassword(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "Guest", "User", nil)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	result, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, "correct horse battery")
	if err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if result.AccountID != invitation.AccountID {
		t.Fatalf("account = %s, want %s", result.AccountID, invitation.AccountID)
	}

	account := tb.repo.get(t, invitation.AccountID)
	if account.Invited {
		t.Fatal("invited flag still set after acceptance")
	}
	if !account.Validated {
		t.Fatal("acceptance must validate the email")
	}
	if account.PasswordHash == "" {
		t.Fatal("password not stored")
	}

	// The chosen password works for regular logins from here on.
	if _, err := tb.broker.Login(context.Background(), "guest@example.com", "correct horse battery"); err != nil {
		t.Fatalf("post-acceptance login failed: %v", err)
	}
}

func TestAcceptInvitationWithoutPassword(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, ""); err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if tb.repo.get(t, invitation.AccountID).PasswordHash != "" {
		t.Fatal("unexpected password hash")
	}
}

func TestAcceptInvitationEnforcesPasswordPolicy(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestAcceptInvitationCodeBurnsOnFirstUse(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, ""); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, ""); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired on reuse, got %v", err)
	}
}

func TestInvitationCodeHasNoExpiry(t *testing.T) {
	tb := invitationTestBroker(t)

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	tb.redis.FastForward(365 * 24 * time.Hour)

	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, ""); err != nil {
		t.Fatalf("invitation codes must not expire: %v", err)
	}
}

func TestInviteDuplicateEmailConflicts(t *testing.T) {
	tb := invitationTestBroker(t)
	tb.registerAccount(t, "guest@example.com", "correct horse battery")

	if _, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil); !errors.Is(err, ErrAccountConflict) {
		t.Fatalf("expected ErrAccountConflict, got %v", err)
	}
}

func TestInviteMailerFailureStillReturnsInvitation(t *testing.T) {
	tb := invitationTestBroker(t)
	tb.mailer.broken = true

	invitation, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil)
	if !errors.Is(err, ErrNotifyFailed) {
		t.Fatalf("expected ErrNotifyFailed, got %v", err)
	}
	if invitation == nil || invitation.Code == "" {
		t.Fatal("invitation must survive a delivery failure")
	}

	// The code stays valid for hand-delivery.
	if _, err := tb.broker.AcceptInvitation(context.Background(), invitation.Code, ""); err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
}

func TestInvitationFeatureDisabled(t *testing.T) {
	tb := newTestBroker(t, nil)

	if _, err := tb.broker.Invite(context.Background(), "guest@example.com", "", "", nil); !errors.Is(err, ErrInvitationFeatureDisabled) {
		t.Fatalf("expected ErrInvitationFeatureDisabled, got %v", err)
	}
	if _, err := tb.broker.AcceptInvitation(context.Background(), "code", ""); !errors.Is(err, ErrInvitationFeatureDisabled) {
		t.Fatalf("expected ErrInvitationFeatureDisabled, got %v", err)
	}
}
