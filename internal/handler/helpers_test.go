package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/badge"
	"github.com/sakif/dipy-services/internal/handler"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/payment"
	"github.com/sakif/dipy-services/internal/repository/sqlite"
	"github.com/sakif/dipy-services/internal/service"
	"github.com/sakif/dipy-services/internal/sponsors"
)

const testBaseURL = "https://dipy.example"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =========================================================================
// FAKE PROVIDER
// =========================================================================

// fakeProvider accepts the code "good" and returns profile for it.
type fakeProvider struct {
	name    model.Provider
	profile auth.Profile
}

func (p *fakeProvider) Name() model.Provider { return p.name }
func (p *fakeProvider) Configured() bool     { return true }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code != "good" {
		return nil, apperror.Upstream("bad verification code", nil)
	}
	return &oauth2.Token{AccessToken: "access"}, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*auth.Profile, error) {
	profile := p.profile
	return &profile, nil
}

// =========================================================================
// FAKE GATEWAY
// =========================================================================

// fakeFlexPay is an httptest payment gateway. status is what the status
// endpoint reports; ready controls PaymentsReady.CCP.
type fakeFlexPay struct {
	mu       sync.Mutex
	status   string
	ready    bool
	executed []string
	srv      *httptest.Server
}

func newFakeFlexPay(t *testing.T) *fakeFlexPay {
	t.Helper()
	g := &fakeFlexPay{status: "Authorized", ready: true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gw-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("POST /api/v1/payment", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"TransactionRequestId": "TR-100",
			"FlexPayRedirectUrl":   "https://pay.example/TR-100",
			"PaymentsReady":        map[string]bool{"CCP": g.ready},
		})
	})
	mux.HandleFunc("GET /api/v1/transaction/request/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"CreateResponse": map[string]string{"TransactionRequestStatus": g.status},
		})
	})
	mux.HandleFunc("POST /api/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TransactionRequestID string `json:"TransactionRequestId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.executed = append(g.executed, body.TransactionRequestID)
		g.mu.Unlock()
		w.Write([]byte(`{"invoice_url":"https://pay.example/invoice/1","TransactionId":["TX-1"]}`))
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

type recordingTagger struct {
	mu   sync.Mutex
	jobs []sponsors.Job
}

func (r *recordingTagger) Enqueue(job sponsors.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

// =========================================================================
// STACK
// =========================================================================

// stack is the real service layer over an in-memory database, with fakes
// only at the network edges.
type stack struct {
	db           *sqlite.DB
	tokens       *auth.TokenService
	auth         *service.AuthService
	sponsorships *service.SponsorshipService
	gateway      *fakeFlexPay
	tagger       *recordingTagger
	pages        *handler.Pages
	badges       *badge.Renderer
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-key-0123456789", time.Hour)
	require.NoError(t, err)

	providers := []auth.Provider{
		&fakeProvider{name: model.ProviderGitHub, profile: auth.Profile{
			ID: "583231", Login: "octocat", Email: "octocat@github.com", Name: "The Octocat",
		}},
	}

	gateway := newFakeFlexPay(t)
	client := payment.NewClient(payment.Config{
		BaseURL:      gateway.srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, gateway.srv.Client(), testLogger())

	pages, err := handler.NewPages(testLogger())
	require.NoError(t, err)
	badges, err := badge.NewRenderer(testBaseURL + "/services/sponsors")
	require.NoError(t, err)

	tagger := &recordingTagger{}
	s := &stack{
		db:      db,
		tokens:  tokens,
		gateway: gateway,
		tagger:  tagger,
		pages:   pages,
		badges:  badges,
	}
	s.auth = service.NewAuthService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), providers, testLogger())
	s.sponsorships = service.NewSponsorshipService(db.Sponsorships(), db.Users(), client, tagger, testBaseURL, testLogger())
	return s
}

// signIn registers a GitHub user and returns it with a session token.
func (s *stack) signIn(t *testing.T) (*model.User, string) {
	t.Helper()
	result, err := s.auth.LoginWithProvider(context.Background(), model.ProviderGitHub, "good")
	require.NoError(t, err)
	return result.User, result.Token
}
