package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/dipy-services/internal/handler"
)

func authRouter(s *stack) http.Handler {
	h := handler.NewAuthHandler(s.auth, testBaseURL, time.Hour, testLogger())
	r := chi.NewRouter()
	r.Get("/services/auth/{provider}/login", h.Login)
	r.Get("/services/auth/{provider}/callback", h.Callback)
	r.Get("/services/auth/me", h.Me)
	r.Get("/services/auth/logout", h.Logout)
	r.Post("/services/auth/email/register", h.Register)
	r.Post("/services/auth/email/login", h.EmailLogin)
	return r
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// =========================================================================
// PROVIDER LOGIN
// =========================================================================

func TestLogin_RedirectsWithState(t *testing.T) {
	router := authRouter(newStack(t))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services/auth/github/login", nil))

	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	state := cookieNamed(rr, "oauth_state")
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, "https://provider.example/authorize?state="+state.Value, rr.Header().Get("Location"))
}

func TestLogin_UnknownProvider(t *testing.T) {
	router := authRouter(newStack(t))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services/auth/myspace/login", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func callback(router http.Handler, cookieState, queryState, code string) *httptest.ResponseRecorder {
	q := url.Values{"state": {queryState}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/services/auth/github/callback?"+q.Encode(), nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookieState})
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCallback_Success(t *testing.T) {
	s := newStack(t)
	router := authRouter(s)

	rr := callback(router, "st4te", "st4te", "good")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "dipy.example", loc.Host)
	assert.Equal(t, "/services/sponsors", loc.Path)

	token := loc.Query().Get("token")
	claims, err := s.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "octocat@github.com", claims.Email)

	assert.Equal(t, token, cookieNamed(rr, "token").Value)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name        string
		cookieState string
		queryState  string
		code        string
	}{
		{"missing state cookie", "", "st4te", "good"},
		{"state mismatch", "st4te", "other", "good"},
		{"exchange rejected", "st4te", "st4te", "bad"},
		{"missing code", "st4te", "st4te", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := callback(authRouter(newStack(t)), tt.cookieState, tt.queryState, tt.code)

			require.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, testBaseURL+"/services/sponsors?error=github_auth_failed", rr.Header().Get("Location"))
			assert.Nil(t, cookieNamed(rr, "token"))
		})
	}
}

// =========================================================================
// ME / LOGOUT
// =========================================================================

func TestMe(t *testing.T) {
	s := newStack(t)
	user, token := s.signIn(t)
	router := authRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/services/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got handler.MeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "octocat@github.com", got.Email)
	require.NotNil(t, got.Username)
	assert.Equal(t, "octocat", *got.Username)
	assert.Equal(t, "github", got.AuthMethod)
}

func TestMe_TokenInQuery(t *testing.T) {
	s := newStack(t)
	_, token := s.signIn(t)
	rr := httptest.NewRecorder()

	authRouter(s).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services/auth/me?token="+token, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMe_Unauthorized(t *testing.T) {
	s := newStack(t)
	deleted, err := s.tokens.Generate(4242, "ghost@example.com")
	require.NoError(t, err)

	for name, header := range map[string]string{
		"no token":      "",
		"garbage token": "Bearer not-a-jwt",
		"unknown user":  "Bearer " + deleted,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/services/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			authRouter(s).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), "Invalid token")
		})
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	rr := httptest.NewRecorder()

	authRouter(newStack(t)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services/auth/logout", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Logged out successfully"}`, rr.Body.String())
	c := cookieNamed(rr, "token")
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

// =========================================================================
// EMAIL
// =========================================================================

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestEmail_RegisterThenLogin(t *testing.T) {
	s := newStack(t)
	router := authRouter(s)

	rr := postJSON(router, "/services/auth/email/register",
		`{"email":"Alice@Example.com","password":"correct horse","full_name":"Alice"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var registered handler.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &registered))
	assert.Equal(t, "bearer", registered.TokenType)
	assert.Equal(t, "alice@example.com", registered.User.Email)
	assert.Empty(t, registered.User.AuthMethod)

	rr = postJSON(router, "/services/auth/email/login", `{"email":"alice@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var loggedIn handler.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &loggedIn))
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)
}

func TestEmail_Errors(t *testing.T) {
	s := newStack(t)
	router := authRouter(s)
	require.Equal(t, http.StatusCreated,
		postJSON(router, "/services/auth/email/register", `{"email":"bob@example.com","password":"password123"}`).Code)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"duplicate email", "/services/auth/email/register", `{"email":"bob@example.com","password":"password123"}`, http.StatusConflict},
		{"short password", "/services/auth/email/register", `{"email":"carol@example.com","password":"short"}`, http.StatusBadRequest},
		{"invalid email", "/services/auth/email/register", `{"email":"not-an-email","password":"password123"}`, http.StatusBadRequest},
		{"malformed body", "/services/auth/email/register", `{"email":`, http.StatusBadRequest},
		{"wrong password", "/services/auth/email/login", `{"email":"bob@example.com","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown email", "/services/auth/email/login", `{"email":"dan@example.com","password":"password123"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(router, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
