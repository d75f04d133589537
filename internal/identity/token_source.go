package identity

import (
	"context"

	"golang.org/x/oauth2"
)

// refreshTokenSource turns the provider's refresh endpoint into an
// oauth2.TokenSource.  Each Token call performs a real exchange; callers
// should wrap it in oauth2.ReuseTokenSource so a token is reused only
// while it is still valid and a stale token is never handed out.
type refreshTokenSource struct {
	client       *Client
	refreshToken string
}

func (s *refreshTokenSource) Token() (*oauth2.Token, error) {
	idToken, expiry, err := s.client.RefreshIDToken(context.Background(), s.refreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: idToken, Expiry: expiry}, nil
}

// TokenSource returns the fresh-ID-token capability for a signed-in user.
// The returned source satisfies the session contract: every caller gets an
// unexpired ID token, refreshed through the provider when needed.
func (c *Client) TokenSource(refreshToken string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &refreshTokenSource{client: c, refreshToken: refreshToken})
}
