package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/repository"
)

var _ repository.SponsorshipRepository = (*SponsorshipDB)(nil)

// SponsorshipDB is the sponsorships table.
type SponsorshipDB struct {
	conn *sql.DB
}

const sponsorshipColumns = `id, user_id, plan_type, amount_cents, currency, payment_id,
	payment_status, invoice_url, transaction_id, team_size, github_sponsor_id, created_at, completed_at`

func scanSponsorship(row rowScanner) (*model.Sponsorship, error) {
	var (
		s             model.Sponsorship
		transactionID sql.NullString
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanType,
		&s.AmountCents,
		&s.Currency,
		&s.PaymentID,
		&s.PaymentStatus,
		&s.InvoiceURL,
		&transactionID,
		&s.TeamSize,
		&s.GitHubSponsorID,
		&s.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	s.TransactionID = transactionID.String
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// Create inserts s and fills in its ID and CreatedAt. Currency defaults to
// USD and status to pending when left empty.
func (db *SponsorshipDB) Create(ctx context.Context, s *model.Sponsorship) error {
	if s.Currency == "" {
		s.Currency = model.DefaultCurrency
	}
	if s.PaymentStatus == "" {
		s.PaymentStatus = model.StatusPending
	}
	s.CreatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO sponsorships (user_id, plan_type, amount_cents, currency, payment_id,
			payment_status, invoice_url, team_size, github_sponsor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID,
		s.PlanType,
		s.AmountCents,
		s.Currency,
		s.PaymentID,
		s.PaymentStatus,
		s.InvoiceURL,
		s.TeamSize,
		s.GitHubSponsorID,
		s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("sponsorship", s.PaymentID)
		}
		return fmt.Errorf("sqlite: inserting sponsorship for user %d: %w", s.UserID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new sponsorship id: %w", err)
	}
	s.ID = id

	return nil
}

// GetByID retrieves a sponsorship by internal id.
func (db *SponsorshipDB) GetByID(ctx context.Context, id int64) (*model.Sponsorship, error) {
	s, err := scanSponsorship(db.conn.QueryRowContext(ctx,
		`SELECT `+sponsorshipColumns+` FROM sponsorships WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("sponsorship", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting sponsorship %d: %w", id, err)
	}
	return s, nil
}

// GetByPaymentID retrieves the sponsorship correlated with a gateway id.
func (db *SponsorshipDB) GetByPaymentID(ctx context.Context, paymentID string) (*model.Sponsorship, error) {
	s, err := scanSponsorship(db.conn.QueryRowContext(ctx,
		`SELECT `+sponsorshipColumns+` FROM sponsorships WHERE payment_id = ?`, paymentID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("sponsorship", paymentID)
		}
		return nil, fmt.Errorf("sqlite: getting sponsorship by payment id %s: %w", paymentID, err)
	}
	return s, nil
}

// ListByUser returns every sponsorship owned by userID, newest first.
func (db *SponsorshipDB) ListByUser(ctx context.Context, userID int64) ([]model.Sponsorship, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sponsorshipColumns+` FROM sponsorships
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing sponsorships for user %d: %w", userID, err)
	}
	defer rows.Close()

	list := make([]model.Sponsorship, 0)
	for rows.Next() {
		s, err := scanSponsorship(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning sponsorship row: %w", err)
		}
		list = append(list, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sponsorship rows: %w", err)
	}

	return list, nil
}

// UpdatePaymentID replaces the provisional payment id with the gateway's
// transaction request id.
func (db *SponsorshipDB) UpdatePaymentID(ctx context.Context, id int64, paymentID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sponsorships SET payment_id = ? WHERE id = ?`, paymentID, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("sponsorship", paymentID)
		}
		return fmt.Errorf("sqlite: updating payment id of sponsorship %d: %w", id, err)
	}
	return requireOneRow(res, id)
}

// UpdateStatus sets the payment status of a row that is not yet terminal.
// Completion goes through MarkCompleted.
//
// The terminal check is part of the UPDATE, so a completion committed after
// the caller read the row is never overwritten.
func (db *SponsorshipDB) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sponsorships SET payment_status = ?
		 WHERE id = ? AND payment_status NOT IN (?, ?, ?)`,
		status, id,
		model.StatusCompleted, model.StatusFailed, model.StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating status of sponsorship %d: %w", id, err)
	}
	return db.checkTransition(ctx, res, id)
}

// MarkCompleted moves the row to completed.
//
// COALESCE/NULLIF keep whatever was recorded first: a second completion (a
// webhook arriving after the return page already resolved the payment) never
// overwrites the invoice, transaction id or completion time. Failed and
// cancelled rows stay as they are.
func (db *SponsorshipDB) MarkCompleted(ctx context.Context, id int64, invoiceURL, transactionID string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sponsorships SET
			payment_status = ?,
			invoice_url    = CASE WHEN invoice_url = '' THEN ? ELSE invoice_url END,
			transaction_id = COALESCE(transaction_id, NULLIF(?, '')),
			completed_at   = COALESCE(completed_at, ?)
		 WHERE id = ? AND payment_status NOT IN (?, ?)`,
		model.StatusCompleted,
		invoiceURL,
		transactionID,
		at.UTC(),
		id,
		model.StatusFailed, model.StatusCancelled,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("transaction", transactionID)
		}
		return fmt.Errorf("sqlite: completing sponsorship %d: %w", id, err)
	}
	return db.checkTransition(ctx, res, id)
}

// SetGitHubSponsorID records the id returned by the sponsor tagging call.
func (db *SponsorshipDB) SetGitHubSponsorID(ctx context.Context, id int64, sponsorID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sponsorships SET github_sponsor_id = ? WHERE id = ?`, sponsorID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting github sponsor id of sponsorship %d: %w", id, err)
	}
	return requireOneRow(res, id)
}

// ListCompletedSponsors returns the owners of completed sponsorships, most
// recent completion first. Users without a GitHub username are skipped since
// they have nothing to show on a badge.
func (db *SponsorshipDB) ListCompletedSponsors(ctx context.Context) ([]model.Sponsor, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.github_username, u.avatar_url, s.plan_type, s.completed_at
		 FROM sponsorships s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.payment_status = ? AND u.github_username != '' AND s.completed_at IS NOT NULL
		 ORDER BY s.completed_at DESC, s.id DESC`,
		model.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing sponsors: %w", err)
	}
	defer rows.Close()

	sponsors := make([]model.Sponsor, 0)
	for rows.Next() {
		var sp model.Sponsor
		if err := rows.Scan(&sp.GitHubUsername, &sp.AvatarURL, &sp.PlanType, &sp.CompletedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning sponsor row: %w", err)
		}
		sponsors = append(sponsors, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sponsor rows: %w", err)
	}

	return sponsors, nil
}

// checkTransition reports why a guarded status UPDATE matched nothing: the
// row is missing (ErrNotFound) or already terminal (repository.ErrTerminal).
func (db *SponsorshipDB) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := db.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("sqlite: sponsorship %d is %s: %w", id, current.PaymentStatus, repository.ErrTerminal)
}

// requireOneRow turns an UPDATE that matched nothing into ErrNotFound.
func requireOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("sponsorship", strconv.FormatInt(id, 10))
	}
	return nil
}
