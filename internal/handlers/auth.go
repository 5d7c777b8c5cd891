package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/internal/services"
	"github.com/healwise/apiserver/types"
)

const (
	oauthStateCookie = "healwise_oauth_state"
	oauthStateTTL    = 10 * time.Minute
	maxBodyBytes     = 1 << 20
)

// AuthHandler provides the /api/auth endpoints.
type AuthHandler struct {
	auth            *services.AuthService
	oauth           services.OAuthProvider
	frontendURL     string
	failureRedirect string
	secureCookies   bool
}

// AuthHandlerConfig holds redirect targets for the OAuth flow.
type AuthHandlerConfig struct {
	FrontendURL     string
	FailureRedirect string
	// SecureCookies marks the OAuth state cookie Secure; set outside dev.
	SecureCookies bool
}

// NewAuthHandler constructs an AuthHandler. oauth may be nil, in which case
// the Google routes answer 404.
func NewAuthHandler(auth *services.AuthService, oauth services.OAuthProvider, cfg AuthHandlerConfig) *AuthHandler {
	failure := cfg.FailureRedirect
	if failure == "" {
		failure = "/login"
	}
	return &AuthHandler{
		auth:            auth,
		oauth:           oauth,
		frontendURL:     cfg.FrontendURL,
		failureRedirect: failure,
		secureCookies:   cfg.SecureCookies,
	}
}

// AuthRouter registers auth routes on the given router. throttle guards the
// credential endpoints.
func AuthRouter(r chi.Router, handler *AuthHandler, requireAuth, throttle func(http.Handler) http.Handler) {
	r.With(throttle).Post("/register", handler.Register)
	r.With(throttle).Post("/login", handler.Login)
	r.With(requireAuth).Get("/user", handler.CurrentUser)
	r.With(requireAuth).Get("/profile", handler.Profile)
	r.Get("/google", handler.GoogleStart)
	r.Get("/google/callback", handler.GoogleCallback)
}

// Register creates a new account. It does not log the user in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     types.Role(req.Role),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{User: user})
}

// Login verifies credentials and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	signed, err := h.auth.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: signed})
}

// CurrentUser returns the authenticated user.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.auth.CurrentUser(r.Context(), identity)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Profile returns the role profile of the authenticated user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.auth.Profile(r.Context(), identity)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{Role: profile.ProfileRole(), Profile: profile})
}

// GoogleStart redirects to the provider's consent screen.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		writeError(w, http.StatusNotFound, "google login is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int(oauthStateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// GoogleCallback completes the OAuth flow and redirects to the frontend with
// the token in the query string.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		writeError(w, http.StatusNotFound, "google login is not configured")
		return
	}

	// The state cookie is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/api/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.oauthFailure(w, r, apperr.Upstream("provider returned error", nil), "provider_error", providerErr)
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		h.oauthFailure(w, r, apperr.Upstream("oauth state mismatch", err))
		return
	}

	info, err := h.oauth.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		h.oauthFailure(w, r, err)
		return
	}

	signed, user, err := h.auth.OAuthLogin(r.Context(), h.oauth.Name(), info)
	if err != nil {
		h.oauthFailure(w, r, err)
		return
	}

	target, err := tokenRedirect(h.frontendURL, signed)
	if err != nil {
		h.oauthFailure(w, r, apperr.Internal("invalid frontend url", err))
		return
	}
	slog.InfoContext(r.Context(), "oauth login", "provider", h.oauth.Name(), "user_id", user.ID)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) oauthFailure(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	args := append([]any{"provider", h.oauth.Name(), "error", err}, attrs...)
	slog.WarnContext(r.Context(), "oauth login failed", args...)
	http.Redirect(w, r, h.failureRedirect, http.StatusFound)
}

// tokenRedirect appends token to frontend's query, keeping any query the
// frontend URL already carries.
func tokenRedirect(frontend, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(frontend))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	User types.User `json:"user"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ProfileResponse struct {
	Role    types.Role        `json:"role"`
	Profile types.RoleProfile `json:"profile"`
}
