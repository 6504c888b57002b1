package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authbroker "github.com/polyfactor/authbroker"
)

// memRepo is a minimal in-memory AccountRepository for guard tests.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]*authbroker.Account
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[string]*authbroker.Account)}
}

func (r *memRepo) FindByID(_ context.Context, id string) (*authbroker.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, authbroker.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *memRepo) FindByEmail(_ context.Context, email string) (*authbroker.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email {
			clone := *account
			return &clone, nil
		}
	}
	return nil, authbroker.ErrAccountNotFound
}

func (r *memRepo) FindByExternalID(_ context.Context, _, _ string) (*authbroker.Account, error) {
	return nil, authbroker.ErrAccountNotFound
}

func (r *memRepo) FindByFidoCredential(_ context.Context, _ string) (*authbroker.Account, error) {
	return nil, authbroker.ErrAccountNotFound
}

func (r *memRepo) Create(_ context.Context, account *authbroker.Account) (*authbroker.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Email == account.Email {
			return nil, authbroker.ErrAccountConflict
		}
	}
	clone := *account
	r.accounts[account.ID] = &clone
	result := clone
	return &result, nil
}

func (r *memRepo) Save(_ context.Context, account *authbroker.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; !ok {
		return authbroker.ErrAccountNotFound
	}
	clone := *account
	r.accounts[account.ID] = &clone
	return nil
}

// noopMailer satisfies the Mailer contract without delivering anything.
type noopMailer struct{}

func (noopMailer) Send(context.Context, *authbroker.Account, string, string) error {
	return nil
}

func newGuardBroker(t *testing.T, mutate func(cfg *authbroker.Config)) (*authbroker.Broker, *memRepo) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	cfg := authbroker.DefaultConfig()
	cfg.Session.PrivateKey = priv
	cfg.Session.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	repo := newMemRepo()
	broker, err := authbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(repo).
		WithMailer(noopMailer{}).
		Build()
	if err != nil {
		t.Fatalf("broker build failed: %v", err)
	}
	t.Cleanup(broker.Close)

	return broker, repo
}

func guardedHandler(t *testing.T, broker *authbroker.Broker) (http.Handler, *string) {
	t.Helper()

	var seenAccount string
	handler := Guard(broker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims missing from request context")
		} else {
			seenAccount = claims.AccountID()
		}
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenAccount
}

func TestGuardAcceptsValidToken(t *testing.T) {
	broker, _ := newGuardBroker(t, nil)
	handler, seenAccount := guardedHandler(t, broker)

	result, err := broker.Register(context.Background(), "alice@example.com", "correct horse battery", "", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+result.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seenAccount != result.AccountID {
		t.Fatalf("context account = %q, want %q", *seenAccount, result.AccountID)
	}
}

func TestGuardRejectsMissingAndMalformedHeaders(t *testing.T) {
	broker, _ := newGuardBroker(t, nil)
	handler, _ := guardedHandler(t, broker)

	for _, header := range []string{"", "Bearer ", "Basic dXNlcjpwYXNz", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestGuardRejectsInvalidToken(t *testing.T) {
	broker, _ := newGuardBroker(t, nil)
	handler, _ := guardedHandler(t, broker)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGuardRejectsTOTPPendingToken(t *testing.T) {
	broker, repo := newGuardBroker(t, func(cfg *authbroker.Config) {
		cfg.TOTP.Enabled = true
	})
	handler, _ := guardedHandler(t, broker)

	result, err := broker.Register(context.Background(), "alice@example.com", "correct horse battery", "", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Enroll TOTP behind the broker's back, then log in again to get a
	// token that still owes the second factor.
	account, err := repo.FindByID(context.Background(), result.AccountID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	account.TOTPSecret = []byte("12345678901234567890")
	account.TOTPPending = false
	if err := repo.Save(context.Background(), account); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	pending, err := broker.Login(context.Background(), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !pending.TOTPPending {
		t.Fatal("expected a totp-pending token")
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pending.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGuardRejectsValidationPendingToken(t *testing.T) {
	broker, _ := newGuardBroker(t, func(cfg *authbroker.Config) {
		cfg.Validation.Required = true
	})
	handler, _ := guardedHandler(t, broker)

	result, err := broker.Register(context.Background(), "alice@example.com", "correct horse battery", "", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+result.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
