// Package repository declares the storage interfaces the service layer depends on.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/dipy-services/internal/model"
)

// ErrTerminal is returned by status writes that found the sponsorship already
// completed, failed or cancelled. The row is left as it was.
var ErrTerminal = errors.New("sponsorship is in a terminal state")

type UserRepository interface {
	// Create inserts a new user and fills in ID and timestamps.
	// Returns apperror.ErrConflict when a UNIQUE column collides.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.User, error)
}

type SponsorshipRepository interface {
	Create(ctx context.Context, s *model.Sponsorship) error
	GetByID(ctx context.Context, id int64) (*model.Sponsorship, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*model.Sponsorship, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Sponsorship, error)
	UpdatePaymentID(ctx context.Context, id int64, paymentID string) error
	// UpdateStatus moves a non-terminal row to status. A terminal row is
	// not touched and ErrTerminal is returned.
	UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus) error
	// MarkCompleted moves the row to completed. Invoice URL, transaction id
	// and completion time that are already set are kept, so repeated
	// completions of the same sponsorship are idempotent. Failed and
	// cancelled rows are not touched and ErrTerminal is returned.
	MarkCompleted(ctx context.Context, id int64, invoiceURL, transactionID string, at time.Time) error
	SetGitHubSponsorID(ctx context.Context, id int64, sponsorID string) error
	ListCompletedSponsors(ctx context.Context) ([]model.Sponsor, error)
}
