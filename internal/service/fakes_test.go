package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/payment"
	"github.com/sakif/dipy-services/internal/repository"
	"github.com/sakif/dipy-services/internal/sponsors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =========================================================================
// USERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository that enforces the
// same UNIQUE columns as the sqlite schema.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64
	// missFirstProviderLookups makes the first N GetByProviderID calls miss,
	// simulating a concurrent callback that inserted in between.
	missFirstProviderLookups int
	createErr                error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User)}
}

func same(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, other := range f.users {
		if other.Email == u.Email || same(other.Username, u.Username) ||
			same(other.GitHubID, u.GitHubID) || same(other.GoogleID, u.GoogleID) ||
			same(other.LinkedInID, u.LinkedInID) {
			return apperror.Conflict("user", u.Email)
		}
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

// insert stores u directly, bypassing the unique checks.
func (f *fakeUserRepo) insert(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u.ID = f.nextID
	f.users[u.ID] = &u
	return &u
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetByProviderID(_ context.Context, p model.Provider, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missFirstProviderLookups > 0 {
		f.missFirstProviderLookups--
		return nil, apperror.NotFound(string(p)+" user", id)
	}
	for _, u := range f.users {
		if u.ProviderID(p) == id {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound(string(p)+" user", id)
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// =========================================================================
// SPONSORSHIPS
// =========================================================================

type fakeSponsorshipRepo struct {
	mu     sync.Mutex
	rows   map[int64]*model.Sponsorship
	nextID int64
	users  *fakeUserRepo
}

var _ repository.SponsorshipRepository = (*fakeSponsorshipRepo)(nil)

func newFakeSponsorshipRepo(users *fakeUserRepo) *fakeSponsorshipRepo {
	return &fakeSponsorshipRepo{rows: make(map[int64]*model.Sponsorship), users: users}
}

func (f *fakeSponsorshipRepo) Create(_ context.Context, s *model.Sponsorship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	stored := *s
	f.rows[s.ID] = &stored
	return nil
}

func (f *fakeSponsorshipRepo) get(id int64) (*model.Sponsorship, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("sponsorship", strconv.FormatInt(id, 10))
	}
	return s, nil
}

func (f *fakeSponsorshipRepo) GetByID(_ context.Context, id int64) (*model.Sponsorship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(id)
	if err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

func (f *fakeSponsorshipRepo) GetByPaymentID(_ context.Context, paymentID string) (*model.Sponsorship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.PaymentID == paymentID {
			c := *s
			return &c, nil
		}
	}
	return nil, apperror.NotFound("sponsorship", paymentID)
}

func (f *fakeSponsorshipRepo) ListByUser(_ context.Context, userID int64) ([]model.Sponsorship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Sponsorship
	for _, s := range f.rows {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeSponsorshipRepo) UpdatePaymentID(_ context.Context, id int64, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(id)
	if err != nil {
		return err
	}
	s.PaymentID = paymentID
	return nil
}

func (f *fakeSponsorshipRepo) UpdateStatus(_ context.Context, id int64, status model.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(id)
	if err != nil {
		return err
	}
	if s.PaymentStatus.Terminal() {
		return repository.ErrTerminal
	}
	s.PaymentStatus = status
	return nil
}

func (f *fakeSponsorshipRepo) MarkCompleted(_ context.Context, id int64, invoiceURL, transactionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(id)
	if err != nil {
		return err
	}
	if s.PaymentStatus == model.StatusFailed || s.PaymentStatus == model.StatusCancelled {
		return repository.ErrTerminal
	}
	s.PaymentStatus = model.StatusCompleted
	if s.InvoiceURL == "" {
		s.InvoiceURL = invoiceURL
	}
	if s.TransactionID == "" {
		s.TransactionID = transactionID
	}
	if s.CompletedAt == nil {
		s.CompletedAt = &at
	}
	return nil
}

func (f *fakeSponsorshipRepo) SetGitHubSponsorID(_ context.Context, id int64, sponsorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(id)
	if err != nil {
		return err
	}
	s.GitHubSponsorID = sponsorID
	return nil
}

func (f *fakeSponsorshipRepo) ListCompletedSponsors(ctx context.Context) ([]model.Sponsor, error) {
	f.mu.Lock()
	rows := make([]model.Sponsorship, 0, len(f.rows))
	for _, s := range f.rows {
		rows = append(rows, *s)
	}
	f.mu.Unlock()

	var out []model.Sponsor
	for _, s := range rows {
		if s.PaymentStatus != model.StatusCompleted {
			continue
		}
		u, err := f.users.GetByID(ctx, s.UserID)
		if err != nil || u.GitHubUsername == "" {
			continue
		}
		out = append(out, model.Sponsor{GitHubUsername: u.GitHubUsername, AvatarURL: u.AvatarURL,
			PlanType: s.PlanType, CompletedAt: *s.CompletedAt})
	}
	return out, nil
}

// settlingRepo commits a concurrent status write right after a read hands out
// the pending row, so the caller acts on a stale copy.
type settlingRepo struct {
	*fakeSponsorshipRepo
	settle func(id int64)
	once   sync.Once
}

func (r *settlingRepo) GetByID(ctx context.Context, id int64) (*model.Sponsorship, error) {
	sp, err := r.fakeSponsorshipRepo.GetByID(ctx, id)
	if err == nil {
		r.once.Do(func() { r.settle(sp.ID) })
	}
	return sp, err
}

func (r *settlingRepo) GetByPaymentID(ctx context.Context, paymentID string) (*model.Sponsorship, error) {
	sp, err := r.fakeSponsorshipRepo.GetByPaymentID(ctx, paymentID)
	if err == nil {
		r.once.Do(func() { r.settle(sp.ID) })
	}
	return sp, err
}

// =========================================================================
// GATEWAY / TAGGER / PROVIDER
// =========================================================================

type fakeGateway struct {
	session      *payment.SessionResponse
	sessionErr   error
	status       *payment.StatusResponse
	statusErr    error
	execute      *payment.ExecuteResponse
	executeErr   error
	lastSession  payment.SessionRequest
	executeCalls int
}

var _ PaymentGateway = (*fakeGateway)(nil)

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.SessionResponse, error) {
	g.lastSession = req
	return g.session, g.sessionErr
}

func (g *fakeGateway) VerifyPayment(context.Context, string) (*payment.StatusResponse, error) {
	return g.status, g.statusErr
}

func (g *fakeGateway) ExecutePayment(context.Context, string) (*payment.ExecuteResponse, error) {
	g.executeCalls++
	return g.execute, g.executeErr
}

type fakeTagger struct {
	jobs []sponsors.Job
}

func (f *fakeTagger) Enqueue(job sponsors.Job) bool {
	f.jobs = append(f.jobs, job)
	return true
}

// fakeProvider is an auth.Provider returning a fixed profile.
type fakeProvider struct {
	name        model.Provider
	configured  bool
	profile     *auth.Profile
	exchangeErr error
}

var _ auth.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Name() model.Provider { return p.name }
func (p *fakeProvider) Configured() bool     { return p.configured }
func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "at-" + code}, nil
}

func (p *fakeProvider) FetchProfile(context.Context, *oauth2.Token) (*auth.Profile, error) {
	c := *p.profile
	return &c, nil
}
