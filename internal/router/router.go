package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aquasight/deepsee/internal/config"     // cache and rate-limit configuration
	"github.com/aquasight/deepsee/internal/handler"    // import the handlers that implement business logic
	"github.com/aquasight/deepsee/internal/metrics"    // Prometheus exposition
	"github.com/aquasight/deepsee/internal/middleware" // middleware for JWT authentication, caching and rate limiting
	"github.com/aquasight/deepsee/internal/session"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance: the health check and the metrics exposition.
func RegisterRoutes(e *echo.Echo, reg *prometheus.Registry) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
}

// RegisterAuth registers all authentication-related routes.  Sign-in
// operations live under /v1/auth and need no token; logout and /me are
// protected because they act on an established session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, gate *session.Gate) {
	// Operations that do not require an existing session.
	g := e.Group("/v1/auth")
	// Register a POST endpoint to create an account at /v1/auth/register.
	g.POST("/register", a.Register)
	// Register a POST endpoint to sign in with email/password at /v1/auth/login.
	g.POST("/login", a.Login)
	// Federated sign-in: consent URL and code callback.  Both answer 404
	// when Google credentials are not configured.
	g.GET("/google/url", a.GoogleLoginURL)
	g.POST("/google/callback", a.GoogleCallback)
	// Register a POST endpoint to send a password-reset email.
	g.POST("/password-reset", a.ForgotPassword)

	// Routes that require a valid ID token.  All handlers registered on
	// this group execute the JWTAuth middleware before being invoked.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret, gate))
	// Sign the caller out and cancel their live subscriptions.
	auth.POST("/auth/logout", a.Logout)
	// Return the authenticated user's stored profile.
	auth.GET("/me", a.Me)
}

// RegisterPredictions registers the upload workflow and history routes.
// All of them require authentication.  The upload route additionally runs
// the Redis token bucket, and the snapshot route the Redis response cache;
// pass a nil Redis client to disable both.
func RegisterPredictions(e *echo.Echo, p *handler.PredictionHandler, jwtSecret string, gate *session.Gate, rdb *redis.Client) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret, gate))

	// One submission: select + submit against the caller's coordinator.
	auth.POST("/predictions", p.Upload, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	// Full sorted history snapshot (cached per user, short TTL).
	auth.GET("/predictions", p.ListHistory, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	// Live history over server-sent events.  Never cached.
	auth.GET("/predictions/stream", p.StreamHistory)
	// The caller's current upload state (phase, result, error, warning).
	auth.GET("/uploads/state", p.UploadState)
}
