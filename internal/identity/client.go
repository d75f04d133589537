// Package identity wraps the external identity provider's REST surface.
// The provider owns accounts, credentials and token issuance; this package
// only consumes it: sign-up, sign-in (password and federated), email
// verification, password reset, token refresh and revocation.  Provider
// failures are returned as *ProviderError so handlers can surface the
// provider's own message to the user.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the identity provider.  BaseURL points at the provider
// root; APIKey, when set, is passed as a query parameter on every call the
// way hosted providers expect.  HTTPClient may be replaced in tests.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient builds a Client with a conservative request timeout.  Identity
// calls are small JSON exchanges; 10 seconds is generous.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// User describes the account fields the provider reports after a
// successful sign-in or sign-up.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	PhotoURL      string `json:"photo_url"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthResult bundles the signed-in user with the token pair the provider
// issued.  IDToken is short-lived; RefreshToken is exchanged later for
// fresh ID tokens via RefreshIDToken.
type AuthResult struct {
	User         User   `json:"user"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds until IDToken expires
}

// ProviderError is a failure reported by the identity provider itself, as
// opposed to a transport failure.  Code carries the provider's symbolic
// error code (e.g. "INVALID_CREDENTIALS") when one was present.
type ProviderError struct {
	Status  int    // HTTP status of the response
	Code    string // provider error code, may be empty
	Message string // human-readable message
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("identity provider error: %d", e.Status)
}

// SignUp creates a new email/password account.  The caller is expected to
// follow up with SendEmailVerification; the provider does not consider the
// account signed in.
func (c *Client) SignUp(ctx context.Context, email, password string) (AuthResult, error) {
	var out AuthResult
	err := c.post(ctx, "/v1/accounts:signUp", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

// SignInWithPassword exchanges credentials for a token pair.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (AuthResult, error) {
	var out AuthResult
	err := c.post(ctx, "/v1/accounts:signInWithPassword", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

// SignInWithIDP signs in with a federated identity.  assertion is the
// already-verified ID token from the upstream provider (Google), and
// providerID names it (e.g. "google.com").
func (c *Client) SignInWithIDP(ctx context.Context, providerID, assertion string) (AuthResult, error) {
	var out AuthResult
	err := c.post(ctx, "/v1/accounts:signInWithIdp", map[string]string{
		"provider_id": providerID,
		"assertion":   assertion,
	}, &out)
	return out, err
}

// SendEmailVerification asks the provider to email a verification link to
// the account behind idToken.
func (c *Client) SendEmailVerification(ctx context.Context, idToken string) error {
	return c.post(ctx, "/v1/accounts:sendOobCode", map[string]string{
		"request_type": "VERIFY_EMAIL",
		"id_token":     idToken,
	}, nil)
}

// SendPasswordReset asks the provider to email a password-reset link.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "/v1/accounts:sendOobCode", map[string]string{
		"request_type": "PASSWORD_RESET",
		"email":        email,
	}, nil)
}

// refreshResponse is the provider's token endpoint payload.
type refreshResponse struct {
	IDToken   string `json:"id_token"`
	ExpiresIn int    `json:"expires_in"`
}

// RefreshIDToken exchanges a refresh token for a fresh ID token.  ID
// tokens expire quickly, so every submission fetches through here (via the
// session's TokenSource) instead of reusing an old token.
func (c *Client) RefreshIDToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	var out refreshResponse
	err := c.post(ctx, "/v1/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, &out)
	if err != nil {
		return "", time.Time{}, err
	}
	return out.IDToken, time.Now().UTC().Add(time.Duration(out.ExpiresIn) * time.Second), nil
}

// Revoke invalidates a refresh token at the provider.  Used on sign-out.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	return c.post(ctx, "/v1/token:revoke", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
}

// errBody is the provider's error envelope.
type errBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post sends a JSON body to path and decodes the response into out when
// out is non-nil.  Non-2xx responses become *ProviderError.
func (c *Client) post(ctx context.Context, path string, body map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.BaseURL + path
	if c.APIKey != "" {
		url += "?key=" + c.APIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("identity provider read: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{Status: resp.StatusCode}
		var eb errBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			perr.Code = eb.Error.Code
			perr.Message = eb.Error.Message
		} else {
			perr.Message = fmt.Sprintf("identity provider error: %d", resp.StatusCode)
		}
		return perr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("identity provider decode: %w", err)
		}
	}
	return nil
}
