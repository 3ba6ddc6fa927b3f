package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/repository"
)

func createTestSponsorship(t *testing.T, s *SponsorshipDB, userID int64, paymentID string) *model.Sponsorship {
	t.Helper()
	sp := &model.Sponsorship{
		UserID:      userID,
		PlanType:    model.PlanTeam,
		AmountCents: 35000,
		PaymentID:   paymentID,
		TeamSize:    5,
	}
	if err := s.Create(context.Background(), sp); err != nil {
		t.Fatalf("failed to create test sponsorship: %v", err)
	}
	return sp
}

// =========================================================================
// CREATE / GET
// =========================================================================

func TestSponsorshipCreate_Defaults(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")

	sp := createTestSponsorship(t, db.Sponsorships(), user.ID, "pay-1")

	found, err := db.Sponsorships().GetByID(context.Background(), sp.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", found.Currency)
	}
	if found.PaymentStatus != model.StatusPending {
		t.Errorf("PaymentStatus = %q, want pending", found.PaymentStatus)
	}
	if found.AmountCents != 35000 || found.TeamSize != 5 {
		t.Errorf("amount/team = %d/%d, want 35000/5", found.AmountCents, found.TeamSize)
	}
	if found.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", found.CompletedAt)
	}
	if found.TransactionID != "" {
		t.Errorf("TransactionID = %q, want empty", found.TransactionID)
	}
}

func TestSponsorshipCreate_DuplicatePaymentID(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	createTestSponsorship(t, db.Sponsorships(), user.ID, "pay-1")

	dup := &model.Sponsorship{UserID: user.ID, PlanType: model.PlanIndividual, AmountCents: 4900, PaymentID: "pay-1", TeamSize: 1}
	err := db.Sponsorships().Create(context.Background(), dup)

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() duplicate payment_id error = %v, want ErrConflict", err)
	}
}

func TestSponsorshipGetByPaymentID(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	sp := createTestSponsorship(t, s, user.ID, "tmp-uuid")

	if err := s.UpdatePaymentID(context.Background(), sp.ID, "TR-100"); err != nil {
		t.Fatalf("UpdatePaymentID() error = %v", err)
	}

	found, err := s.GetByPaymentID(context.Background(), "TR-100")
	if err != nil {
		t.Fatalf("GetByPaymentID() error = %v", err)
	}
	if found.ID != sp.ID {
		t.Errorf("ID = %d, want %d", found.ID, sp.ID)
	}

	_, err = s.GetByPaymentID(context.Background(), "tmp-uuid")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old payment id error = %v, want ErrNotFound", err)
	}
}

func TestSponsorshipListByUser(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db.Users(), "1", "alice")
	bob := createTestUser(t, db.Users(), "2", "bob")
	s := db.Sponsorships()

	first := createTestSponsorship(t, s, alice.ID, "a-1")
	second := createTestSponsorship(t, s, alice.ID, "a-2")
	createTestSponsorship(t, s, bob.ID, "b-1")

	list, err := s.ListByUser(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = [%d %d], want newest first [%d %d]", list[0].ID, list[1].ID, second.ID, first.ID)
	}

	empty, err := s.ListByUser(context.Background(), 999)
	if err != nil {
		t.Fatalf("ListByUser() unknown user error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListByUser() unknown user = %v, want empty non-nil slice", empty)
	}
}

// =========================================================================
// STATE TRANSITIONS
// =========================================================================

func TestSponsorshipUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")

	if err := s.UpdateStatus(context.Background(), sp.ID, model.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	found, _ := s.GetByID(context.Background(), sp.ID)
	if found.PaymentStatus != model.StatusCancelled {
		t.Errorf("PaymentStatus = %q, want cancelled", found.PaymentStatus)
	}

	err := s.UpdateStatus(context.Background(), 999, model.StatusFailed)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateStatus() unknown id error = %v, want ErrNotFound", err)
	}
}

// A writer holding a stale pending copy must not move a row out of a
// terminal state.
func TestSponsorshipUpdateStatus_TerminalRowUnchanged(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	ctx := context.Background()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")

	stale, _ := s.GetByPaymentID(ctx, "pay-1")
	if err := s.MarkCompleted(ctx, sp.ID, "", "tx-1", time.Now()); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	err := s.UpdateStatus(ctx, stale.ID, model.StatusFailed)
	if !errors.Is(err, repository.ErrTerminal) {
		t.Fatalf("UpdateStatus() error = %v, want ErrTerminal", err)
	}

	found, _ := s.GetByID(ctx, sp.ID)
	if found.PaymentStatus != model.StatusCompleted {
		t.Errorf("PaymentStatus = %q, want completed", found.PaymentStatus)
	}
	if found.TransactionID != "tx-1" || found.CompletedAt == nil {
		t.Errorf("completion fields = %q/%v, want kept", found.TransactionID, found.CompletedAt)
	}
}

func TestSponsorshipMarkCompleted_CancelledRowUnchanged(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	ctx := context.Background()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")

	if err := s.UpdateStatus(ctx, sp.ID, model.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	err := s.MarkCompleted(ctx, sp.ID, "https://inv/1", "tx-1", time.Now())
	if !errors.Is(err, repository.ErrTerminal) {
		t.Fatalf("MarkCompleted() error = %v, want ErrTerminal", err)
	}

	found, _ := s.GetByID(ctx, sp.ID)
	if found.PaymentStatus != model.StatusCancelled {
		t.Errorf("PaymentStatus = %q, want cancelled", found.PaymentStatus)
	}
	if found.CompletedAt != nil || found.TransactionID != "" {
		t.Errorf("completion fields = %q/%v, want unset", found.TransactionID, found.CompletedAt)
	}

	if err := s.MarkCompleted(ctx, 999, "", "", time.Now()); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("MarkCompleted() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestSponsorshipMarkCompleted(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.MarkCompleted(context.Background(), sp.ID, "https://inv/1", "TX-1", at); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	found, err := s.GetByID(context.Background(), sp.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.PaymentStatus != model.StatusCompleted {
		t.Errorf("PaymentStatus = %q, want completed", found.PaymentStatus)
	}
	if found.InvoiceURL != "https://inv/1" || found.TransactionID != "TX-1" {
		t.Errorf("invoice/tx = %q/%q, want https://inv/1/TX-1", found.InvoiceURL, found.TransactionID)
	}
	if found.CompletedAt == nil || !found.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", found.CompletedAt, at)
	}
}

// A second completion must not overwrite what the first one recorded.
func TestSponsorshipMarkCompleted_Idempotent(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")
	ctx := context.Background()
	first := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.MarkCompleted(ctx, sp.ID, "https://inv/1", "TX-1", first); err != nil {
		t.Fatalf("first MarkCompleted() error = %v", err)
	}
	if err := s.MarkCompleted(ctx, sp.ID, "https://inv/2", "TX-2", first.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkCompleted() error = %v", err)
	}

	found, _ := s.GetByID(ctx, sp.ID)
	if found.InvoiceURL != "https://inv/1" {
		t.Errorf("InvoiceURL = %q, want first value kept", found.InvoiceURL)
	}
	if found.TransactionID != "TX-1" {
		t.Errorf("TransactionID = %q, want first value kept", found.TransactionID)
	}
	if !found.CompletedAt.Equal(first) {
		t.Errorf("CompletedAt = %v, want %v", found.CompletedAt, first)
	}
}

func TestSponsorshipMarkCompleted_EmptyTransactionIDStaysNull(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	ctx := context.Background()
	a := createTestSponsorship(t, s, user.ID, "pay-a")
	b := createTestSponsorship(t, s, user.ID, "pay-b")

	// Two completions without a transaction id must not trip the UNIQUE index.
	if err := s.MarkCompleted(ctx, a.ID, "", "", time.Now()); err != nil {
		t.Fatalf("MarkCompleted(a) error = %v", err)
	}
	if err := s.MarkCompleted(ctx, b.ID, "", "", time.Now()); err != nil {
		t.Fatalf("MarkCompleted(b) error = %v", err)
	}
}

func TestSponsorshipSetGitHubSponsorID(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "1", "octocat")
	s := db.Sponsorships()
	sp := createTestSponsorship(t, s, user.ID, "pay-1")

	if err := s.SetGitHubSponsorID(context.Background(), sp.ID, "S_kwDO"); err != nil {
		t.Fatalf("SetGitHubSponsorID() error = %v", err)
	}
	found, _ := s.GetByID(context.Background(), sp.ID)
	if found.GitHubSponsorID != "S_kwDO" {
		t.Errorf("GitHubSponsorID = %q, want S_kwDO", found.GitHubSponsorID)
	}
}

func TestSponsorshipListCompletedSponsors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := db.Sponsorships()

	alice := createTestUser(t, db.Users(), "1", "alice")
	bob := createTestUser(t, db.Users(), "2", "bob")
	noGitHub := &model.User{Email: "g@example.com", GoogleID: model.StringPtr("g-1")}
	if err := db.Users().Create(ctx, noGitHub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	a := createTestSponsorship(t, s, alice.ID, "a")
	b := createTestSponsorship(t, s, bob.ID, "b")
	g := createTestSponsorship(t, s, noGitHub.ID, "g")
	createTestSponsorship(t, s, alice.ID, "still-pending")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.MarkCompleted(ctx, a.ID, "", "tx-a", base)
	s.MarkCompleted(ctx, b.ID, "", "tx-b", base.Add(time.Hour))
	s.MarkCompleted(ctx, g.ID, "", "tx-g", base.Add(2*time.Hour))

	sponsors, err := s.ListCompletedSponsors(ctx)
	if err != nil {
		t.Fatalf("ListCompletedSponsors() error = %v", err)
	}
	if len(sponsors) != 2 {
		t.Fatalf("len = %d, want 2 (pending and GitHub-less rows excluded)", len(sponsors))
	}
	if sponsors[0].GitHubUsername != "bob" || sponsors[1].GitHubUsername != "alice" {
		t.Errorf("order = [%s %s], want [bob alice]", sponsors[0].GitHubUsername, sponsors[1].GitHubUsername)
	}
}
