package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/service"
)

const stateCookie = "oauth_state"

// AuthHandler serves the sign-in endpoints under /services/auth.
//
//   - Login      → redirect the browser to the provider's authorization page
//   - Callback   → finish the flow and hand the browser a session token
//   - Me         → the signed-in user's profile
//   - Logout     → drop the token cookie
//   - Register / EmailLogin → password accounts
type AuthHandler struct {
	auth     *service.AuthService
	baseURL  string
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. baseURL is where the callback sends
// the browser afterwards.
func NewAuthHandler(authService *service.AuthService, baseURL string, tokenTTL time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     authService,
		baseURL:  baseURL,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Login redirects to the provider.
//
// HTTP: GET /services/auth/{provider}/login
//
// A random state goes into a short-lived HttpOnly cookie; Callback only
// accepts a state that matches it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider, err := h.auth.Provider(model.Provider(chi.URLParam(r, "provider")))
	if err != nil {
		writeError(w, err)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the provider login.
//
// HTTP: GET /services/auth/{provider}/callback?code=xxx&state=yyy
//
// Success and failure both end on the sponsors page: with ?token=<jwt> on
// success, ?error=<provider>_auth_failed otherwise.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	name := model.Provider(chi.URLParam(r, "provider"))
	q := r.URL.Query()

	fail := func(reason string, attrs ...any) {
		h.logger.Warn("auth callback failed",
			append([]any{slog.String("provider", string(name)), slog.String("reason", reason)}, attrs...)...)
		h.redirectToSponsors(w, r, "error", string(name)+"_auth_failed")
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		fail("missing state cookie")
		return
	}
	if q.Get("state") != cookie.Value {
		fail("state mismatch")
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if denied := q.Get("error"); denied != "" {
		fail("authorization denied", slog.String("error", denied))
		return
	}

	result, err := h.auth.LoginWithProvider(r.Context(), name, q.Get("code"))
	if err != nil {
		fail("login failed", slog.String("error", err.Error()))
		return
	}

	h.setTokenCookie(w, result.Token)
	h.redirectToSponsors(w, r, auth.TokenParam, result.Token)
}

func (h *AuthHandler) redirectToSponsors(w http.ResponseWriter, r *http.Request, key, value string) {
	target := h.baseURL + "/services/sponsors?" + url.Values{key: {value}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// MeResponse is the body of GET /services/auth/me.
type MeResponse struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	Username   *string `json:"username"`
	FullName   string  `json:"full_name"`
	AuthMethod string  `json:"auth_method"`
	AvatarURL  string  `json:"avatar_url"`
}

// Me returns the signed-in user.
//
// HTTP: GET /services/auth/me
//
// Any failure, from a missing token to a deleted account, is a 401.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		h.logger.Debug("me: not authenticated", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Invalid token"})
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		ID:         user.ID,
		Email:      user.Email,
		Username:   user.Username,
		FullName:   user.FullName,
		AuthMethod: string(user.AuthMethod()),
		AvatarURL:  user.AvatarURL,
	})
}

// currentUser authenticates r from whichever token source it carries.
func (h *AuthHandler) currentUser(r *http.Request) (*model.User, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		var err error
		claims, err = h.auth.Authenticate(auth.TokenFromRequest(r))
		if err != nil {
			return nil, err
		}
	}
	return h.auth.CurrentUser(r.Context(), claims)
}

// Logout clears the token cookie. Tokens are stateless, so one that was
// copied elsewhere stays valid until it expires.
//
// HTTP: GET /services/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenParam,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

type emailRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// TokenResponse is returned by the email endpoints.
type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        MeResponse `json:"user"`
}

// Register creates a password account.
//
// HTTP: POST /services/auth/email/register
// Body: {"email": "...", "password": "...", "full_name": "..."}
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.RegisterWithEmail(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("email registration failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	h.writeToken(w, http.StatusCreated, result)
}

// EmailLogin signs in a password account.
//
// HTTP: POST /services/auth/email/login
// Body: {"email": "...", "password": "..."}
func (h *AuthHandler) EmailLogin(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.LoginWithEmail(r.Context(), req.Email, req.Password)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("email login failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	h.writeToken(w, http.StatusOK, result)
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, status int, result *service.AuthResult) {
	h.setTokenCookie(w, result.Token)
	u := result.User
	writeJSON(w, status, TokenResponse{
		AccessToken: result.Token,
		TokenType:   "bearer",
		User: MeResponse{
			ID:         u.ID,
			Email:      u.Email,
			Username:   u.Username,
			FullName:   u.FullName,
			AuthMethod: string(u.AuthMethod()),
			AvatarURL:  u.AvatarURL,
		},
	})
}

// setTokenCookie stores the session token for the HTML pages. Secure is left
// to the TLS-terminating proxy in front of the server.
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenParam,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
