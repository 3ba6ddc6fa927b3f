package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/payment"
	"github.com/sakif/dipy-services/internal/repository"
	"github.com/sakif/dipy-services/internal/sponsors"
)

// Messages shown on the page the gateway returns the payer to.
const (
	MsgPaymentCompleted = "Thank you for your sponsorship! Payment completed."
	msgExecutionFailed  = "Payment execution failed: "
	msgNotCompleted     = "Payment not completed. Status: "
	msgVerifyFailed     = "Payment verification failed: "
)

// PaymentGateway is the part of *payment.Client the workflow uses.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.SessionResponse, error)
	VerifyPayment(ctx context.Context, paymentID string) (*payment.StatusResponse, error)
	ExecutePayment(ctx context.Context, transactionRequestID string) (*payment.ExecuteResponse, error)
}

// SponsorTagger accepts best-effort tagging jobs. *sponsors.Queue implements it.
type SponsorTagger interface {
	Enqueue(job sponsors.Job) bool
}

// ErrGatewayNotReady is returned by Create when the gateway accepted the
// session but cannot take card payments right now. The sponsorship stays
// pending and the payer may try again.
var ErrGatewayNotReady = errors.New("payment system is not ready")

// SponsorshipService drives a sponsorship through its payment lifecycle.
//
//	pending ──Resolve (authorized → execute)──▶ completed
//	pending ──Resolve (already completed)─────▶ completed
//	pending ──Cancel──────────────────────────▶ cancelled
//	pending ──ApplyWebhook(status)────────────▶ status
//
// completed, failed and cancelled are terminal; requests that would move a
// sponsorship out of them are acknowledged and ignored.
type SponsorshipService struct {
	sponsorships repository.SponsorshipRepository
	users        repository.UserRepository
	gateway      PaymentGateway
	tagger       SponsorTagger
	baseURL      string
	logger       *slog.Logger
	now          func() time.Time
}

// NewSponsorshipService wires the workflow. baseURL is the public origin the
// gateway sends the payer back to.
func NewSponsorshipService(
	sponsorships repository.SponsorshipRepository,
	users repository.UserRepository,
	gateway PaymentGateway,
	tagger SponsorTagger,
	baseURL string,
	logger *slog.Logger,
) *SponsorshipService {
	return &SponsorshipService{
		sponsorships: sponsorships,
		users:        users,
		gateway:      gateway,
		tagger:       tagger,
		baseURL:      baseURL,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateResult is a created sponsorship and where to send the payer.
type CreateResult struct {
	Sponsorship *model.Sponsorship
	RedirectURL string
}

// Create records a pending sponsorship for the plan and opens a gateway
// session for it.
//
// The row is written first with a random payment id, then the gateway's
// transaction request id replaces it. A gateway failure leaves the pending
// row behind; it is never completed and does not show up as a sponsor.
func (s *SponsorshipService) Create(ctx context.Context, userID int64, payerEmail string, planType model.PlanType) (*CreateResult, error) {
	plan, ok := model.LookupPlan(planType)
	if !ok {
		return nil, apperror.ValidationFailed("plan_type", "Invalid plan type")
	}

	sp := &model.Sponsorship{
		UserID:        userID,
		PlanType:      plan.Type,
		AmountCents:   plan.AmountCents,
		Currency:      model.DefaultCurrency,
		PaymentID:     uuid.NewString(),
		PaymentStatus: model.StatusPending,
		TeamSize:      plan.TeamSize,
	}
	if err := s.sponsorships.Create(ctx, sp); err != nil {
		return nil, fmt.Errorf("service/sponsorship: creating sponsorship: %w", err)
	}

	returnURL := s.callbackURL("payment-success", sp.ID)
	session, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		AmountCents: sp.AmountCents,
		Currency:    sp.Currency,
		PayerEmail:  payerEmail,
		PlanType:    sp.PlanType,
		UserID:      userID,
		Reference:   sp.PaymentID,
		ReturnURL:   returnURL,
		CancelURL:   s.callbackURL("payment-cancel", sp.ID),
	})
	if err != nil {
		s.logger.Error("payment session failed", "sponsorship_id", sp.ID, "error", err)
		return nil, fmt.Errorf("service/sponsorship: creating payment session: %w", err)
	}

	if id := session.PaymentID(); id != "" {
		if err := s.sponsorships.UpdatePaymentID(ctx, sp.ID, id); err != nil {
			return nil, fmt.Errorf("service/sponsorship: storing payment id: %w", err)
		}
		sp.PaymentID = id
	}

	if !session.Ready() {
		s.logger.Warn("payment gateway not ready", "sponsorship_id", sp.ID)
		return nil, ErrGatewayNotReady
	}

	s.logger.Info("payment session created",
		"sponsorship_id", sp.ID, "plan", sp.PlanType, "payment_id", sp.PaymentID)
	return &CreateResult{Sponsorship: sp, RedirectURL: session.RedirectURL}, nil
}

func (s *SponsorshipService) callbackURL(page string, id int64) string {
	return s.baseURL + "/services/sponsors/" + page + "?sponsorship_id=" + strconv.FormatInt(id, 10)
}

// ResolveResult is what the payer sees after returning from the gateway.
type ResolveResult struct {
	Completed bool
	Message   string
	// Status is the gateway status that was acted on.
	Status string
}

// IsError reports whether Message describes a failure.
func (r *ResolveResult) IsError() bool {
	return !r.Completed
}

// Resolve settles a sponsorship after the payer returns from the gateway.
//
// An authorized payment is executed and the sponsorship completed. A payment
// the gateway already reports as completed only has its completion fields
// stamped; stamping keeps an invoice URL and transaction id already stored,
// so reloading the page changes nothing. Other statuses are reported as not
// completed and nothing is written.
//
// Gateway failures do not change the stored status. They come back as a
// result with an error message; only a missing sponsorship or a storage
// failure is returned as an error.
func (s *SponsorshipService) Resolve(ctx context.Context, sponsorshipID int64) (*ResolveResult, error) {
	sp, err := s.sponsorships.GetByID(ctx, sponsorshipID)
	if err != nil {
		return nil, err
	}

	if sp.PaymentStatus.Terminal() {
		return storedResult(sp), nil
	}

	info, err := s.gateway.VerifyPayment(ctx, sp.PaymentID)
	if err != nil {
		s.logger.Error("payment verification failed", "sponsorship_id", sp.ID, "error", err)
		return &ResolveResult{Message: msgVerifyFailed + userMessage(err)}, nil
	}
	status := info.Status()

	switch model.PaymentStatus(status) {
	case model.StatusAuthorized:
		exec, err := s.gateway.ExecutePayment(ctx, sp.PaymentID)
		if err != nil {
			s.logger.Error("payment execution failed", "sponsorship_id", sp.ID, "error", err)
			return &ResolveResult{Message: msgExecutionFailed + userMessage(err), Status: status}, nil
		}
		if err := s.complete(ctx, sp, exec.InvoiceURL, exec.TransactionID.First()); err != nil {
			return s.afterFailedCompletion(ctx, sp.ID, err)
		}

	case model.StatusCompleted:
		if err := s.complete(ctx, sp, info.InvoiceURL, info.SettlementID()); err != nil {
			return s.afterFailedCompletion(ctx, sp.ID, err)
		}

	default:
		s.logger.Info("payment not completed", "sponsorship_id", sp.ID, "status", status)
		return &ResolveResult{Message: msgNotCompleted + status, Status: status}, nil
	}

	return &ResolveResult{Completed: true, Message: MsgPaymentCompleted, Status: status}, nil
}

// storedResult describes a sponsorship that is already terminal.
func storedResult(sp *model.Sponsorship) *ResolveResult {
	status := string(sp.PaymentStatus)
	if sp.PaymentStatus == model.StatusCompleted {
		return &ResolveResult{Completed: true, Message: MsgPaymentCompleted, Status: status}
	}
	return &ResolveResult{Message: msgNotCompleted + status, Status: status}
}

// afterFailedCompletion handles a completion that lost to a concurrent cancel
// or failure: the stored terminal status is reported as is.
func (s *SponsorshipService) afterFailedCompletion(ctx context.Context, id int64, err error) (*ResolveResult, error) {
	if !errors.Is(err, repository.ErrTerminal) {
		return nil, err
	}
	sp, getErr := s.sponsorships.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	s.logger.Warn("completion ignored for terminal sponsorship", "sponsorship_id", id, "status", sp.PaymentStatus)
	return storedResult(sp), nil
}

// complete marks sp completed and queues sponsor tagging for its owner.
func (s *SponsorshipService) complete(ctx context.Context, sp *model.Sponsorship, invoiceURL, transactionID string) error {
	if err := s.sponsorships.MarkCompleted(ctx, sp.ID, invoiceURL, transactionID, s.now()); err != nil {
		return fmt.Errorf("service/sponsorship: completing sponsorship %d: %w", sp.ID, err)
	}
	s.logger.Info("sponsorship completed", "sponsorship_id", sp.ID, "transaction_id", transactionID)

	s.tag(ctx, sp)
	return nil
}

// tag queues GitHub sponsor tagging when the owner signed in with GitHub.
// Nothing here can fail the completion.
func (s *SponsorshipService) tag(ctx context.Context, sp *model.Sponsorship) {
	owner, err := s.users.GetByID(ctx, sp.UserID)
	if err != nil {
		s.logger.Warn("sponsor tagging skipped, owner lookup failed", "sponsorship_id", sp.ID, "error", err)
		return
	}
	githubID := owner.ProviderID(model.ProviderGitHub)
	if githubID == "" {
		return
	}
	s.tagger.Enqueue(sponsors.Job{SponsorshipID: sp.ID, GitHubID: githubID, PlanType: sp.PlanType})
}

// Cancel records that the payer backed out. A missing sponsorship and one
// already in a terminal state are both left alone.
func (s *SponsorshipService) Cancel(ctx context.Context, sponsorshipID int64) error {
	sp, err := s.sponsorships.GetByID(ctx, sponsorshipID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/sponsorship: loading sponsorship %d: %w", sponsorshipID, err)
	}
	if sp.PaymentStatus.Terminal() {
		s.logger.Info("cancel ignored for terminal sponsorship", "sponsorship_id", sp.ID, "status", sp.PaymentStatus)
		return nil
	}

	err = s.sponsorships.UpdateStatus(ctx, sp.ID, model.StatusCancelled)
	if errors.Is(err, repository.ErrTerminal) {
		s.logger.Info("cancel ignored, sponsorship settled concurrently", "sponsorship_id", sp.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/sponsorship: cancelling sponsorship %d: %w", sp.ID, err)
	}
	s.logger.Info("sponsorship cancelled", "sponsorship_id", sp.ID)
	return nil
}

// Notification is a status update pushed by the gateway.
type Notification struct {
	PaymentID  string
	Status     model.PaymentStatus
	InvoiceURL string
}

// ApplyWebhook applies a gateway notification to the sponsorship it names.
func (s *SponsorshipService) ApplyWebhook(ctx context.Context, n Notification) error {
	if n.PaymentID == "" || n.Status == "" {
		return apperror.ValidationFailed("payment_id", "Missing payment_id or status")
	}
	if !n.Status.Valid() {
		return apperror.ValidationFailed("status", fmt.Sprintf("Unknown payment status %q", n.Status))
	}

	sp, err := s.sponsorships.GetByPaymentID(ctx, n.PaymentID)
	if err != nil {
		return err
	}

	if sp.PaymentStatus.Terminal() {
		if sp.PaymentStatus != n.Status {
			s.logger.Warn("webhook ignored for terminal sponsorship",
				"sponsorship_id", sp.ID, "status", sp.PaymentStatus, "notified", n.Status)
		}
		return nil
	}

	if n.Status == model.StatusCompleted {
		err = s.complete(ctx, sp, n.InvoiceURL, "")
	} else {
		err = s.sponsorships.UpdateStatus(ctx, sp.ID, n.Status)
		if err != nil {
			err = fmt.Errorf("service/sponsorship: updating sponsorship %d: %w", sp.ID, err)
		}
	}
	if errors.Is(err, repository.ErrTerminal) {
		s.logger.Warn("webhook ignored, sponsorship settled concurrently",
			"sponsorship_id", sp.ID, "notified", n.Status)
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("sponsorship updated by webhook", "sponsorship_id", sp.ID, "status", n.Status)
	return nil
}

// ListForUser returns the user's sponsorships, newest first.
func (s *SponsorshipService) ListForUser(ctx context.Context, userID int64) ([]model.Sponsorship, error) {
	list, err := s.sponsorships.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/sponsorship: listing for user %d: %w", userID, err)
	}
	return list, nil
}

// ActiveSponsorship returns the user's most recent completed sponsorship, or
// nil when there is none.
func (s *SponsorshipService) ActiveSponsorship(ctx context.Context, userID int64) (*model.Sponsorship, error) {
	list, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].PaymentStatus == model.StatusCompleted {
			return &list[i], nil
		}
	}
	return nil, nil
}

// Sponsors lists completed sponsorships of users with a GitHub username,
// most recent first.
func (s *SponsorshipService) Sponsors(ctx context.Context) ([]model.Sponsor, error) {
	list, err := s.sponsorships.ListCompletedSponsors(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/sponsorship: listing sponsors: %w", err)
	}
	return list, nil
}

// userMessage is the part of err fit to show a payer.
func userMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var statusErr *payment.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("gateway returned status %d", statusErr.StatusCode)
	}
	return err.Error()
}
