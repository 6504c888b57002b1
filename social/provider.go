package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Identity is the verified identity a provider reports after a successful
// code exchange.
type Identity struct {
	Provider  string
	ID        string
	Email     string
	FirstName string
	LastName  string
	Avatar    string
}

// Provider is the adapter the broker calls for social logins. Exchange must
// return an identity with a stable, provider-unique ID.
type Provider interface {
	Name() string
	RedirectURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Config holds the OAuth application credentials for one provider.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes overrides the provider's default scope set when non-empty.
	Scopes []string
}

// OAuthProvider is the oauth2-backed [Provider] implementation shared by
// the built-in providers. The fetch function turns an authenticated HTTP
// client into an [Identity] using the provider's profile endpoint.
type OAuthProvider struct {
	name   string
	config *oauth2.Config
	fetch  func(ctx context.Context, client *http.Client) (*Identity, error)
}

func newOAuthProvider(name string, cfg *oauth2.Config, fetch func(ctx context.Context, client *http.Client) (*Identity, error)) *OAuthProvider {
	return &OAuthProvider{
		name:   name,
		config: cfg,
		fetch:  fetch,
	}
}

// Name describes the name operation and its observable behavior.
func (p *OAuthProvider) Name() string {
	return p.name
}

// RedirectURL describes the redirecturl operation and its observable behavior.
func (p *OAuthProvider) RedirectURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token and fetches the
// profile behind it.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange: %w", p.name, err)
	}

	identity, err := p.fetch(ctx, p.config.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("%s profile fetch: %w", p.name, err)
	}
	identity.Provider = p.name

	return identity, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("profile endpoint returned %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
