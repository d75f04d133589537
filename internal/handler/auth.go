package handler

import (
	"context"  // provides context with cancellation for provider calls
	"errors"   // error inspection for provider failures
	"net/http" // HTTP status codes and primitives
	"strings"  // string manipulation utilities
	"time"     // timeouts for provider calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/aquasight/deepsee/internal/config"   // app configuration
	"github.com/aquasight/deepsee/internal/identity" // identity provider client
	"github.com/aquasight/deepsee/internal/model"
	"github.com/aquasight/deepsee/internal/session" // session gate
	"github.com/aquasight/deepsee/internal/store"
)

// Profiles is the read side of the profile store the handler needs for /me.
type Profiles interface {
	GetProfile(ctx context.Context, uid string) (model.UserProfile, error)
}

// AuthHandler bundles dependencies for auth endpoints.  Google may be nil
// when federated sign-in is not configured.
type AuthHandler struct {
	Cfg      config.Config
	Provider *identity.Client
	Google   *identity.GoogleProvider
	Gate     *session.Gate
	Profiles Profiles
}

func NewAuthHandler(cfg config.Config, p *identity.Client, g *identity.GoogleProvider, gate *session.Gate, profiles Profiles) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Provider: p, Google: g, Gate: gate, Profiles: profiles}
}

// ----- DTOs -----

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type resetReq struct {
	Email string `json:"email"`
}
type googleCallbackReq struct {
	Code string `json:"code"`
}

type userPart struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}
type authResp struct {
	User         userPart `json:"user"`
	IDToken      string   `json:"id_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
}

// Register: create the account and send a verification email.  No session
// is established; the user must verify before logging in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Provider.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		status, msg := providerStatus(err)
		return c.JSON(status, echo.Map{"error": msg})
	}
	if err := h.Provider.SendEmailVerification(ctx, res.IDToken); err != nil {
		status, msg := providerStatus(err)
		return c.JSON(status, echo.Map{"error": msg})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "signup successful, please verify your email before logging in",
	})
}

// Login: verify credentials at the provider, reject unverified emails, and
// establish the session (which also creates or refreshes the profile).
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Provider.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		status, msg := providerStatus(err)
		return c.JSON(status, echo.Map{"error": msg})
	}
	if !res.User.EmailVerified {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "please verify your email before logging in"})
	}
	return h.establish(c, ctx, res)
}

// GoogleLoginURL returns the consent URL for federated sign-in.  The state
// value is returned to the client, which presents it back alongside the
// code so its own redirect handling can detect tampering.
func (h *AuthHandler) GoogleLoginURL(c echo.Context) error {
	if h.Google == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "federated sign-in is not configured"})
	}
	state := identity.NewState()
	return c.JSON(http.StatusOK, echo.Map{"url": h.Google.LoginURL(state), "state": state})
}

// GoogleCallback finishes federated sign-in: exchange the code, verify the
// Google ID token, assert it to the identity provider, establish the
// session.
func (h *AuthHandler) GoogleCallback(c echo.Context) error {
	if h.Google == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "federated sign-in is not configured"})
	}
	var req googleCallbackReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	assertion, err := h.Google.Exchange(ctx, req.Code)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "google sign-in failed"})
	}
	res, err := h.Provider.SignInWithIDP(ctx, "google.com", assertion)
	if err != nil {
		status, msg := providerStatus(err)
		return c.JSON(status, echo.Map{"error": msg})
	}
	return h.establish(c, ctx, res)
}

// establish installs the session after any successful provider sign-in and
// writes the auth response.  This is the single place profile
// create-or-update happens for every entry point.
func (h *AuthHandler) establish(c echo.Context, ctx context.Context, res identity.AuthResult) error {
	tokens := h.Provider.TokenSource(res.RefreshToken)
	_, err := h.Gate.Establish(ctx, res.User.UID, res.User.Email, res.User.DisplayName, res.User.PhotoURL, tokens, res.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, authResp{
		User: userPart{
			UID:         res.User.UID,
			Email:       res.User.Email,
			DisplayName: res.User.DisplayName,
			PhotoURL:    res.User.PhotoURL,
		},
		IDToken:      res.IDToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
	})
}

// ForgotPassword asks the provider to send a password-reset email.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "please enter your email to reset password"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Provider.SendPasswordReset(ctx, req.Email); err != nil {
		status, msg := providerStatus(err)
		return c.JSON(status, echo.Map{"error": msg})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password reset email sent"})
}

// Logout signs the caller out: the refresh token is revoked and live
// history subscriptions for the session shut down.
func (h *AuthHandler) Logout(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	if err := h.Gate.SignOut(ctx, uid); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sign out failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's stored profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Profiles.GetProfile(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "profile not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, p)
}

// providerStatus maps an identity call failure to an HTTP status and a
// user-presentable message.  Provider-reported 4xx statuses pass through;
// everything else (transport failures included) is a bad gateway.
func providerStatus(err error) (int, string) {
	var pe *identity.ProviderError
	if errors.As(err, &pe) {
		if pe.Status >= 400 && pe.Status < 500 {
			return pe.Status, pe.Message
		}
		return http.StatusBadGateway, pe.Message
	}
	return http.StatusBadGateway, "identity provider unavailable"
}
