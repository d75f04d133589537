// Package session owns the process-wide view of who is signed in.  The
// Gate wraps the identity provider: it is the only component that may
// create sessions, the only writer of user profiles, and the place where
// sign-out is turned into cancellation of everything hanging off a
// session.  All other components read identity exclusively through it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aquasight/deepsee/internal/model"
	"github.com/aquasight/deepsee/internal/store"
)

// ErrAuthRequired is returned when an operation demands a signed-in user
// and none is present.  Callers surface it without attempting any
// collaborator call.
var ErrAuthRequired = errors.New("you must be logged in")

// Profiles is the slice of the record store the gate needs.
type Profiles interface {
	GetProfile(ctx context.Context, uid string) (model.UserProfile, error)
	CreateProfile(ctx context.Context, p model.UserProfile) error
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
}

// Revoker invalidates refresh tokens at the identity provider.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// Session is one user's authenticated state.  Tokens is the fresh-ID-token
// capability: it never hands out an expired token, so nothing downstream
// caches token strings.  Done is closed on sign-out; long-lived consumers
// (the history stream owner) select on it to release their subscriptions.
type Session struct {
	UID    string
	Email  string
	Tokens oauth2.TokenSource

	refreshToken string
	done         chan struct{}
}

// Authenticated reports whether the session represents a signed-in user.
// A nil *Session is the Anonymous session.
func (s *Session) Authenticated() bool { return s != nil && s.UID != "" }

// Done is closed when the session is signed out.
func (s *Session) Done() <-chan struct{} { return s.done }

// Gate tracks live sessions by uid.  One session per uid: a later sign-in
// replaces the earlier session without cancelling it, mirroring how a
// second browser tab does not log the first one out.
type Gate struct {
	profiles Profiles
	revoker  Revoker

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewGate(profiles Profiles, revoker Revoker) *Gate {
	return &Gate{profiles: profiles, revoker: revoker, sessions: make(map[string]*Session)}
}

// Establish records a sign-in: it runs the single create-or-update profile
// operation and installs the session.  On a first-ever uid the profile is
// created with CreatedAt = now; on a returning uid only LastLogin moves.
// Profile write failures abort the sign-in with a user-presentable message.
func (g *Gate) Establish(ctx context.Context, uid, email, displayName, photoURL string, tokens oauth2.TokenSource, refreshToken string) (*Session, error) {
	if uid == "" {
		return nil, errors.New("cannot establish session: missing user id")
	}
	now := time.Now().UTC()
	_, err := g.profiles.GetProfile(ctx, uid)
	switch {
	case err == nil:
		err = g.profiles.TouchLastLogin(ctx, uid, now)
	case errors.Is(err, store.ErrNotFound):
		if displayName == "" {
			displayName = "N/A"
		}
		err = g.profiles.CreateProfile(ctx, model.UserProfile{
			UID:         uid,
			Email:       email,
			DisplayName: displayName,
			PhotoURL:    photoURL,
			CreatedAt:   now,
			LastLogin:   now,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("could not save user data: %w", err)
	}

	sess := &Session{
		UID:          uid,
		Email:        email,
		Tokens:       tokens,
		refreshToken: refreshToken,
		done:         make(chan struct{}),
	}
	g.mu.Lock()
	g.sessions[uid] = sess
	g.mu.Unlock()
	return sess, nil
}

// Observe makes sure a session exists for a request that arrived with a
// verified bearer token.  After a process restart the sessions map is
// empty while clients still hold valid ID tokens; the observed session's
// token capability serves the presented token, which the middleware has
// just proven unexpired.  A refresh-capable session from a real sign-in is
// never downgraded.
func (g *Gate) Observe(uid, email, rawIDToken string, expiry time.Time) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sess, ok := g.sessions[uid]; ok {
		if sess.refreshToken != "" {
			return sess
		}
		if bs, ok := sess.Tokens.(*bearerSource); ok {
			bs.set(rawIDToken, expiry)
			return sess
		}
	}
	sess := &Session{
		UID:    uid,
		Email:  email,
		Tokens: newBearerSource(rawIDToken, expiry),
		done:   make(chan struct{}),
	}
	g.sessions[uid] = sess
	return sess
}

// Current returns the live session for uid, or nil (Anonymous) when the
// user is not signed in.
func (g *Gate) Current(uid string) *Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[uid]
}

// Require returns the session for uid or ErrAuthRequired.
func (g *Gate) Require(uid string) (*Session, error) {
	if sess := g.Current(uid); sess.Authenticated() {
		return sess, nil
	}
	return nil, ErrAuthRequired
}

// SignOut transitions the user back to Anonymous: the refresh token is
// revoked at the provider, the session is dropped, and Done is closed so
// live history subscriptions shut down.  A missing session is a no-op.
func (g *Gate) SignOut(ctx context.Context, uid string) error {
	g.mu.Lock()
	sess, ok := g.sessions[uid]
	if ok {
		delete(g.sessions, uid)
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}
	close(sess.done)
	if sess.refreshToken != "" && g.revoker != nil {
		if err := g.revoker.Revoke(ctx, sess.refreshToken); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	return nil
}
