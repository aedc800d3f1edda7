package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 16

// Handler serves the account endpoints.
type Handler struct {
	store  Store
	tokens *Tokens
	logger *slog.Logger
}

// NewHandler creates account handlers.
func NewHandler(store Store, tokens *Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, tokens: tokens, logger: logger}
}

// Routes registers the account endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.Handle("/delete", h.Middleware(http.HandlerFunc(h.Delete))).Methods(http.MethodDelete)
	r.Handle("/validate", h.Middleware(http.HandlerFunc(h.Validate))).Methods(http.MethodGet)
}

// Register creates an account and responds with a token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	id, err := h.store.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("user registered", "user_id", id)
	h.writeToken(w, id)
}

// Login checks credentials and responds with a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	id, err := h.store.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeToken(w, id)
}

// Delete removes the authenticated user.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, ErrMissingToken)
		return
	}

	if err := h.store.Delete(r.Context(), claims.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("user deleted", "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Validate succeeds when the request carries a valid token.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Middleware rejects requests without a valid token for an existing user
// and stores the claims in the request context.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.tokens.Verify(TokenFromRequest(r))
		if err != nil {
			h.logger.Debug("token rejected", "error", err, "path", r.URL.Path)
			h.writeError(w, err)
			return
		}

		if err := h.store.Exists(r.Context(), claims.UserID); err != nil {
			h.logger.Debug("token for unknown user", "user_id", claims.UserID, "error", err)
			h.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// TokenFromRequest returns the token from the x-auth-token header, a
// bearer Authorization header or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if tok := r.Header.Get(TokenHeader); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (Credentials, bool) {
	var creds Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return creds, false
	}
	if creds.Username == "" || creds.Password == "" {
		h.writeError(w, ErrMissingFields)
		return creds, false
	}
	return creds, true
}

func (h *Handler) writeToken(w http.ResponseWriter, id uuid.UUID) {
	token, err := h.tokens.Issue(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(token))
}

// writeError maps err to a status code. Unexpected errors are logged and
// reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingFields):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound), IsTokenError(err):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("auth request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
