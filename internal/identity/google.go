package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// NewState returns a random anti-CSRF state value for the OAuth dance.
func NewState() string { return uuid.NewString() }

// GoogleProvider performs the federated sign-in dance: it builds the
// consent URL, exchanges the authorization code and verifies the ID token
// Google returns.  The verified raw token is then asserted to the identity
// provider via SignInWithIDP, so the rest of the system only ever sees
// provider-issued sessions.
type GoogleProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider discovers Google's OIDC endpoints and prepares the
// OAuth config.  Use context.Background() in main().
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("google client credentials are required")
	}
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// LoginURL returns the Google consent URL for the given anti-CSRF state.
func (g *GoogleProvider) LoginURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange redeems an authorization code and verifies the ID token in the
// response.  It returns the raw, verified ID token for assertion to the
// identity provider.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return "", errors.New("token response missing id_token")
	}
	if _, err := g.verifier.Verify(ctx, rawID); err != nil {
		return "", fmt.Errorf("verify id token: %w", err)
	}
	return rawID, nil
}
