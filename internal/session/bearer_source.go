package session

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// bearerSource serves the ID token presented on the most recent verified
// request.  It backs sessions observed from bearer tokens (no refresh
// token on hand); the middleware refreshes the stored value on every
// request, so the token it serves was valid moments ago.
type bearerSource struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newBearerSource(token string, expiry time.Time) *bearerSource {
	return &bearerSource{token: token, expiry: expiry}
}

func (b *bearerSource) set(token string, expiry time.Time) {
	b.mu.Lock()
	b.token = token
	b.expiry = expiry
	b.mu.Unlock()
}

func (b *bearerSource) Token() (*oauth2.Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.token == "" || (!b.expiry.IsZero() && time.Now().After(b.expiry)) {
		return nil, errors.New("session token expired; sign in again")
	}
	return &oauth2.Token{AccessToken: b.token, Expiry: b.expiry}, nil
}
