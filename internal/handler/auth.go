package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Robinemad1/EEETrading/internal/cache"
	"github.com/Robinemad1/EEETrading/pkg/apierror"
	"github.com/Robinemad1/EEETrading/pkg/response"
	"github.com/Robinemad1/EEETrading/pkg/uid"
)

const (
	oauthStatePrefix = "oauth_state:"
	oauthStateTTL    = 10 * time.Minute
)

// AuthHandler handles the QuickBooks authorization handshake and token
// maintenance endpoints.
type AuthHandler struct {
	tokens TokenService
	states cache.Cache
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler. states holds pending OAuth2
// state values between connect and callback.
func NewAuthHandler(tokens TokenService, states cache.Cache, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		tokens: tokens,
		states: states,
		logger: logger,
	}
}

// Connect handles GET /auth/quickbooks/connect
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	state, err := uid.State()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.states.Set(r.Context(), oauthStatePrefix+state, []byte{1}, oauthStateTTL); err != nil {
		h.logger.Error("storing oauth state", slog.String("error", err.Error()))
		response.Error(w, apierror.ServiceUnavailable("could not start authorization"))
		return
	}

	http.Redirect(w, r, h.tokens.AuthorizeURL(state), http.StatusFound)
}

// CallbackResponse reports a completed authorization.
type CallbackResponse struct {
	RealmID   string    `json:"realm_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// Callback handles GET /auth/quickbooks/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("authorization denied",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		response.Error(w, apierror.BadRequest("authorization was not granted: "+errCode))
		return
	}

	state := q.Get("state")
	if state == "" {
		response.Error(w, apierror.BadRequest("missing state parameter"))
		return
	}
	// Take consumes the state so a callback URL cannot be replayed.
	if _, err := h.states.Take(r.Context(), oauthStatePrefix+state); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Error("reading oauth state", slog.String("error", err.Error()))
		}
		response.Error(w, apierror.BadRequest("invalid or expired state parameter"))
		return
	}

	code, realmID := q.Get("code"), q.Get("realmId")
	if code == "" || realmID == "" {
		response.Error(w, apierror.ValidationError("authorization code and realm id are required"))
		return
	}

	cred, err := h.tokens.Authorize(r.Context(), code, realmID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	response.Message(w, http.StatusOK, "Connected to QuickBooks", CallbackResponse{
		RealmID:   cred.RealmID,
		IssuedAt:  cred.IssuedAt,
		ExpiresIn: cred.ExpiresIn,
	})
}

// TokenStatus handles GET /api/v1/quickbooks/token
func (h *AuthHandler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tokens.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.OK(w, status)
}

// RefreshToken handles POST /api/v1/quickbooks/token/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	if _, err := h.tokens.Refresh(r.Context()); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status, err := h.tokens.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.Message(w, http.StatusOK, "Token refreshed successfully", status)
}
