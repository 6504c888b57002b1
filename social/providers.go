package social

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// NewGoogle returns the Google provider (OIDC userinfo endpoint).
func NewGoogle(cfg Config) *OAuthProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoints.Google,
	}

	return newOAuthProvider("google", oc, func(ctx context.Context, client *http.Client) (*Identity, error) {
		var profile struct {
			Sub        string `json:"sub"`
			Email      string `json:"email"`
			GivenName  string `json:"given_name"`
			FamilyName string `json:"family_name"`
			Picture    string `json:"picture"`
		}
		if err := fetchJSON(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo", &profile); err != nil {
			return nil, err
		}
		return &Identity{
			ID:        profile.Sub,
			Email:     profile.Email,
			FirstName: profile.GivenName,
			LastName:  profile.FamilyName,
			Avatar:    profile.Picture,
		}, nil
	})
}

// NewFacebook returns the Facebook provider (Graph API profile).
func NewFacebook(cfg Config) *OAuthProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"email", "public_profile"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoints.Facebook,
	}

	return newOAuthProvider("facebook", oc, func(ctx context.Context, client *http.Client) (*Identity, error) {
		var profile struct {
			ID        string `json:"id"`
			Email     string `json:"email"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Picture   struct {
				Data struct {
					URL string `json:"url"`
				} `json:"data"`
			} `json:"picture"`
		}
		if err := fetchJSON(ctx, client, "https://graph.facebook.com/v19.0/me?fields=id,email,first_name,last_name,picture", &profile); err != nil {
			return nil, err
		}
		return &Identity{
			ID:        profile.ID,
			Email:     profile.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			Avatar:    profile.Picture.Data.URL,
		}, nil
	})
}

// NewLinkedIn returns the LinkedIn provider (OIDC userinfo endpoint).
func NewLinkedIn(cfg Config) *OAuthProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoints.LinkedIn,
	}

	return newOAuthProvider("linkedin", oc, func(ctx context.Context, client *http.Client) (*Identity, error) {
		var profile struct {
			Sub        string `json:"sub"`
			Email      string `json:"email"`
			GivenName  string `json:"given_name"`
			FamilyName string `json:"family_name"`
			Picture    string `json:"picture"`
		}
		if err := fetchJSON(ctx, client, "https://api.linkedin.com/v2/userinfo", &profile); err != nil {
			return nil, err
		}
		return &Identity{
			ID:        profile.Sub,
			Email:     profile.Email,
			FirstName: profile.GivenName,
			LastName:  profile.FamilyName,
			Avatar:    profile.Picture,
		}, nil
	})
}

// NewMicrosoft returns the Microsoft provider (Graph /me). An empty tenant
// defaults to the multi-tenant "common" endpoint.
func NewMicrosoft(cfg Config, tenant string) *OAuthProvider {
	if tenant == "" {
		tenant = "common"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile", "User.Read"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoints.AzureAD(tenant),
	}

	return newOAuthProvider("microsoft", oc, func(ctx context.Context, client *http.Client) (*Identity, error) {
		var profile struct {
			ID                string `json:"id"`
			Mail              string `json:"mail"`
			UserPrincipalName string `json:"userPrincipalName"`
			GivenName         string `json:"givenName"`
			Surname           string `json:"surname"`
		}
		if err := fetchJSON(ctx, client, "https://graph.microsoft.com/v1.0/me", &profile); err != nil {
			return nil, err
		}

		email := profile.Mail
		if email == "" && strings.Contains(profile.UserPrincipalName, "@") {
			email = profile.UserPrincipalName
		}
		return &Identity{
			ID:        profile.ID,
			Email:     email,
			FirstName: profile.GivenName,
			LastName:  profile.Surname,
		}, nil
	})
}
