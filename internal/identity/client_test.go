package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestSignInWithPassword(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotBody = decodeBody(t, r)
		w.Write([]byte(`{
			"user": {"uid":"u1","email":"u1@example.com","display_name":"Ada","email_verified":true},
			"id_token":"id-1","refresh_token":"ref-1","expires_in":3600
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key-1")
	res, err := c.SignInWithPassword(context.Background(), "u1@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "/v1/accounts:signInWithPassword", gotPath)
	assert.Equal(t, "api-key-1", gotKey)
	assert.Equal(t, map[string]string{"email": "u1@example.com", "password": "hunter2"}, gotBody)

	assert.Equal(t, "u1", res.User.UID)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, "id-1", res.IDToken)
	assert.Equal(t, "ref-1", res.RefreshToken)
	assert.Equal(t, 3600, res.ExpiresIn)
}

func TestProviderErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"INVALID_CREDENTIALS","message":"wrong email or password"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").SignInWithPassword(context.Background(), "a@b.c", "nope")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", pe.Code)
	assert.Equal(t, "wrong email or password", pe.Error())
}

func TestProviderErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").SendPasswordReset(context.Background(), "a@b.c")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "identity provider error: 503", pe.Error())
}

func TestSendOobCodes(t *testing.T) {
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies = append(bodies, decodeBody(t, r))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "")

	require.NoError(t, c.SendEmailVerification(context.Background(), "id-1"))
	require.NoError(t, c.SendPasswordReset(context.Background(), "a@b.c"))

	require.Len(t, bodies, 2)
	assert.Equal(t, "VERIFY_EMAIL", bodies[0]["request_type"])
	assert.Equal(t, "id-1", bodies[0]["id_token"])
	assert.Equal(t, "PASSWORD_RESET", bodies[1]["request_type"])
	assert.Equal(t, "a@b.c", bodies[1]["email"])
}

func TestRefreshIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "refresh_token", body["grant_type"])
		assert.Equal(t, "ref-1", body["refresh_token"])
		w.Write([]byte(`{"id_token":"id-fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	idToken, expiry, err := NewClient(srv.URL, "").RefreshIDToken(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "id-fresh", idToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second)
}

func TestTokenSourceReusesUnexpiredToken(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"id_token":"id-fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	src := NewClient(srv.URL, "").TokenSource("ref-1")
	for i := 0; i < 3; i++ {
		tok, err := src.Token()
		require.NoError(t, err)
		assert.Equal(t, "id-fresh", tok.AccessToken)
	}
	// One exchange serves all three calls while the token is valid.
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenSourceRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		// expires_in 0 means the issued token is already inside the
		// reuse window, forcing an exchange on every call.
		resp := map[string]any{"id_token": "id-" + string(rune('0'+n)), "expires_in": 0}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	src := NewClient(srv.URL, "").TokenSource("ref-1")
	tok1, err := src.Token()
	require.NoError(t, err)
	tok2, err := src.Token()
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
	assert.NotEqual(t, tok1.AccessToken, tok2.AccessToken)
}

func TestRevoke(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = decodeBody(t, r)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "").Revoke(context.Background(), "ref-1"))
	assert.Equal(t, "/v1/token:revoke", gotPath)
	assert.Equal(t, map[string]string{"refresh_token": "ref-1"}, gotBody)
}
