package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vigil-auth/vigil/internal/platform/httpx"
	"github.com/vigil-auth/vigil/internal/token"
)

// Handler wires HTTP endpoints for the credential lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	codec     *token.Codec
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, codec *token.Codec) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		codec:     codec,
		validator: newValidator(),
	}
}

// newValidator builds a validator that reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireToken)
		r.Post("/logout", h.handleLogout)
	})
}

// Struct field order matches the required-field reporting order.
type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) validate(payload any) error {
	if err := h.validator.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: the '%s' field is required", httpx.ErrValidation, fieldErrs[0].Field())
		}
		return fmt.Errorf("%w: malformed request body", httpx.ErrValidation)
	}
	return nil
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		h.logError(r, "register", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "user registered successfully"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logError(r, "login", err)
		httpx.RespondError(w, err)
		return
	}
	tok, err := h.service.IssueToken(user.Email, user.Name)
	if err != nil {
		h.logError(r, "issue token", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := BearerTokenFromContext(r.Context())
	if raw == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "authorization token not provided")
		return
	}
	if err := h.service.Logout(r.Context(), raw); err != nil {
		h.logError(r, "logout", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "logout successful"})
}

// RequireToken gates a route on a bearer token: the codec verifies signature,
// expiry, issuer and audience, then the service rejects revoked tokens before
// the handler ever runs.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "authorization token not provided")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if _, err := h.codec.Parse(raw); err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		valid, err := h.service.IsValid(r.Context(), raw)
		if err != nil {
			h.logError(r, "token check", err)
			httpx.RespondError(w, err)
			return
		}
		if !valid {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "token has been revoked")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithBearerToken(r.Context(), raw)))
	})
}

type contextKey string

const bearerTokenKey contextKey = "bearer-token"

// ContextWithBearerToken stores the raw bearer token on the context.
func ContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey, token)
}

// BearerTokenFromContext returns the raw bearer token attached by
// RequireToken, or the empty string.
func BearerTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(bearerTokenKey).(string)
	return raw
}

// logError records failures that are not plain client errors.
func (h *Handler) logError(r *http.Request, op string, err error) {
	if h.logger == nil {
		return
	}
	if errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrDuplicate) || errors.Is(err, httpx.ErrUnauthorized) {
		return
	}
	h.logger.Error(op+" failed", slog.Any("error", err), slog.String("path", r.URL.Path))
}
