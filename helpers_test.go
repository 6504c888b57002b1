package authbroker

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeRepository is an in-memory AccountRepository for tests.
type fakeRepository struct {
	mu       sync.Mutex
	accounts map[string]*Account

	failNext error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accounts: make(map[string]*Account),
	}
}

func (r *fakeRepository) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *fakeRepository) FindByID(_ context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (r *fakeRepository) FindByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	for _, account := range r.accounts {
		if account.Email == email {
			return copyAccount(account), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *fakeRepository) FindByExternalID(_ context.Context, provider, externalID string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	for _, account := range r.accounts {
		if id, ok := account.ExternalID(provider); ok && id == externalID {
			return copyAccount(account), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *fakeRepository) FindByFidoCredential(_ context.Context, credentialID string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	for _, account := range r.accounts {
		if account.FidoCredentialByID(credentialID) != nil {
			return copyAccount(account), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *fakeRepository) Create(_ context.Context, account *Account) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	for _, existing := range r.accounts {
		if account.Email != "" && existing.Email == account.Email {
			return nil, ErrAccountConflict
		}
		for provider, id := range account.ExternalIDs {
			if existingID, ok := existing.ExternalID(provider); ok && existingID == id {
				return nil, ErrAccountConflict
			}
		}
	}
	r.accounts[account.ID] = copyAccount(account)
	return copyAccount(account), nil
}

func (r *fakeRepository) Save(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}

	if _, ok := r.accounts[account.ID]; !ok {
		return ErrAccountNotFound
	}
	r.accounts[account.ID] = copyAccount(account)
	return nil
}

func (r *fakeRepository) get(t *testing.T, id string) *Account {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		t.Fatalf("account %s not in repository", id)
	}
	return copyAccount(account)
}

func (r *fakeRepository) put(account *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = copyAccount(account)
}

func copyAccount(a *Account) *Account {
	out := *a
	out.Scopes = append([]string(nil), a.Scopes...)
	out.TOTPSecret = append([]byte(nil), a.TOTPSecret...)
	out.FidoCredentials = make([]FidoCredential, len(a.FidoCredentials))
	for i, cred := range a.FidoCredentials {
		out.FidoCredentials[i] = cred
		out.FidoCredentials[i].Credential = append([]byte(nil), cred.Credential...)
	}
	if a.ExternalIDs != nil {
		out.ExternalIDs = make(map[string]string, len(a.ExternalIDs))
		for k, v := range a.ExternalIDs {
			out.ExternalIDs[k] = v
		}
	}
	return &out
}

// fakeMailer records outbound mail bodies and can fail on demand.
type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	broken bool
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *fakeMailer) Send(_ context.Context, account *Account, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, sentMail{
		To:      account.Email,
		Subject: subject,
		Body:    body,
	})
	return nil
}

func (m *fakeMailer) lastBody(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1].Body
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519 key generation failed: %v", err)
	}

	cfg := defaultConfig()
	cfg.Service.Name = "authbroker-test"
	cfg.Session.PrivateKey = priv
	cfg.Session.PublicKey = pub
	// Cheap argon2 parameters keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testBroker struct {
	broker *Broker
	repo   *fakeRepository
	mailer *fakeMailer
	redis  *miniredis.Miniredis
}

func newTestBroker(t *testing.T, mutate func(cfg *Config)) *testBroker {
	t.Helper()
	return newTestBrokerWith(t, mutate, nil)
}

func newTestBrokerWith(t *testing.T, mutate func(cfg *Config), customize func(b *Builder)) *testBroker {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	repo := newFakeRepository()
	mailer := &fakeMailer{}

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(repo).
		WithMailer(mailer)
	if customize != nil {
		customize(builder)
	}

	broker, err := builder.Build()
	if err != nil {
		t.Fatalf("broker build failed: %v", err)
	}
	t.Cleanup(broker.Close)

	return &testBroker{
		broker: broker,
		repo:   repo,
		mailer: mailer,
		redis:  mr,
	}
}

// enrollActiveTOTP seeds an active TOTP enrollment straight into the
// repository, skipping the add/confirm ceremony.
func enrollActiveTOTP(t *testing.T, tb *testBroker, accountID string) {
	t.Helper()

	account := tb.repo.get(t, accountID)
	account.TOTPSecret = []byte("12345678901234567890")
	account.TOTPPending = false
	account.TOTPLastCounter = 0
	tb.repo.put(account)
}

func (tb *testBroker) registerAccount(t *testing.T, email, plaintext string) *Account {
	t.Helper()

	result, err := tb.broker.Register(context.Background(), email, plaintext, "Test", "User")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return tb.repo.get(t, result.AccountID)
}
