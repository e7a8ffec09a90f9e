// Package httpapi exposes the engine over JSON HTTP endpoints. Routing
// uses gorilla/mux; request bodies are validated with
// go-playground/validator before any engine call.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	authcore "github.com/cmskit/authcore"
	"github.com/cmskit/authcore/jwt"
	"github.com/cmskit/authcore/middleware"
	"github.com/cmskit/authcore/password"
)

// Handler owns the HTTP surface of one engine.
type Handler struct {
	engine   *authcore.Engine
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates the HTTP surface for an engine.
func NewHandler(engine *authcore.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   engine,
		validate: validator.New(),
		logger:   logger,
	}
}

// Router assembles the full route table. Every /auth route runs behind
// the client-context and general API rate-limit middleware; the
// authenticated routes additionally run behind the Guard.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", h.engine.MetricsHandler()).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(middleware.ClientContext)
	auth.Use(middleware.RateLimit(h.engine, h.engine.Limits().API))

	auth.HandleFunc("/register", h.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", h.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", h.forgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", h.resetPassword).Methods(http.MethodPost)

	guard := middleware.Guard(h.engine)
	auth.Handle("/change-password", guard(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	auth.Handle("/validate", guard(http.HandlerFunc(h.validateIdentity))).Methods(http.MethodGet)

	return r
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// forgotPasswordMessage is constant whether or not the account exists.
const forgotPasswordMessage = "if the account exists, a reset link has been sent"

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusCreated, res.Account)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, res.Account)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	presented, ok := refreshCookie(r)
	if !ok {
		h.writeError(w, r, authcore.ErrRefreshInvalid)
		return
	}

	res, err := h.engine.Refresh(r.Context(), presented)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, res.Account)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if presented, ok := refreshCookie(r); ok {
		if err := h.engine.Logout(r.Context(), presented); err != nil {
			// Logout still succeeds for the client; the revocation failure
			// is logged inside the engine.
			h.logger.Warn("logout revocation failed", "error", err)
		}
	}

	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := authcore.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, jwt.ErrTokenInvalid)
		return
	}

	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ChangePassword(r.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) validateIdentity(w http.ResponseWriter, r *http.Request) {
	identity, ok := authcore.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, jwt.ErrTokenInvalid)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    identity.AccountID,
		"email": identity.Email,
		"role":  identity.Role,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()

	status := map[string]any{"status": "ok", "shared_store": true}
	if err := h.engine.Ping(ctx); err != nil {
		// Degraded, not down: the limiter falls back locally.
		status["shared_store"] = false
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// writeError maps engine errors onto the response taxonomy. Security
// relevant causes were already collapsed inside the engine; this only
// picks the status code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *authcore.RateLimitedError
	if errors.As(err, &limited) {
		retry := int(limited.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	switch {
	case errors.Is(err, authcore.ErrDuplicateAccount):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "account already exists"})
	case errors.Is(err, password.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password does not meet strength policy"})
	case errors.Is(err, authcore.ErrPasswordReuse):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "new password was used recently"})
	case errors.Is(err, authcore.ErrResetInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired reset token"})
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, authcore.ErrRefreshInvalid), errors.Is(err, jwt.ErrTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
