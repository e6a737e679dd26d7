// Package httptransport exposes the vault over JSON HTTP.
package httptransport

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/identity/did"
	"didvault/internal/platform/metrics"
	"didvault/internal/ratelimit"
	"didvault/internal/vault"
	"didvault/internal/wallet"
	"didvault/pkg/platform/middleware/auth"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Vault,Credentials

// Vault is the application surface driven by the handlers.
type Vault interface {
	View() vault.View
	Connect(ctx context.Context) (wallet.Snapshot, error)
	Disconnect(ctx context.Context)
	EnsureNetwork(ctx context.Context) error
	Issue(ctx context.Context) (models.Credential, error)
	Verify(ctx context.Context, text string) models.Result
	Dismiss(id string) bool
}

// Credentials reads issued credentials back from the store.
type Credentials interface {
	FindByID(ctx context.Context, id models.CredentialID) (models.Record, error)
	ListBySubject(ctx context.Context, subject did.DID, limit int) ([]models.Record, error)
}

// Handler serves the wallet, credential and notification endpoints.
type Handler struct {
	vault        Vault
	credentials  Credentials
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator auth.JWTValidator
	limiter      *ratelimit.Middleware
	maxBody      int64
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithJWTValidator enables bearer authentication on every vault route. A nil
// *auth.HMACValidator leaves authentication off.
func WithJWTValidator(v auth.JWTValidator) Option {
	return func(h *Handler) {
		if hv, ok := v.(*auth.HMACValidator); ok && hv == nil {
			return
		}
		h.jwtValidator = v
	}
}

// WithRateLimiter applies per-IP limits to the vault routes.
func WithRateLimiter(m *ratelimit.Middleware) Option {
	return func(h *Handler) { h.limiter = m }
}

// WithMaxBody caps the verify request body.
func WithMaxBody(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

func New(v Vault, credentials Credentials, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		vault:       v,
		credentials: credentials,
		logger:      logger,
		maxBody:     1 << 20,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the vault routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Limit(ratelimit.ClassRead))
			r.Get("/wallet", h.handleGetWallet)
			r.Post("/wallet/disconnect", h.handleDisconnect)
			r.Get("/wallet/did.png", h.handleDIDQRCode)
			r.Get("/credentials", h.handleListCredentials)
			r.Get("/credentials/{id}", h.handleGetCredential)
			r.Get("/notifications", h.handleListNotifications)
			r.Delete("/notifications/{id}", h.handleDismissNotification)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Limit(ratelimit.ClassPrompt))
			r.Post("/wallet/connect", h.handleConnect)
			r.Post("/wallet/network", h.handleEnsureNetwork)
			r.Post("/credentials", h.handleIssue)
		})

		r.With(h.limiter.Limit(ratelimit.ClassVerify)).
			Post("/credentials/verify", h.handleVerify)
	})
}
