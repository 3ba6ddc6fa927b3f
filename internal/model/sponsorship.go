package model

import (
	"fmt"
	"time"
)

// PlanType is the sponsorship plan a user picked.
type PlanType string

const (
	PlanIndividual PlanType = "individual"
	PlanTeam       PlanType = "team"
)

// Plan is a row of the fixed plan table. Amount and team size are decided
// here at creation time and never change afterwards.
type Plan struct {
	Type        PlanType
	AmountCents int64
	TeamSize    int
}

var plans = map[PlanType]Plan{
	PlanIndividual: {Type: PlanIndividual, AmountCents: 4900, TeamSize: 1},
	PlanTeam:       {Type: PlanTeam, AmountCents: 35000, TeamSize: 5},
}

// LookupPlan returns the plan for t, or false for anything outside the table.
func LookupPlan(t PlanType) (Plan, bool) {
	p, ok := plans[t]
	return p, ok
}

// PaymentStatus is the lifecycle state of a sponsorship.
//
//	pending -> authorized (gateway side, never persisted by us) -> completed
//	pending -> failed
//	pending -> cancelled
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusAuthorized PaymentStatus = "authorized"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DefaultCurrency is used when a sponsorship is created without one.
const DefaultCurrency = "USD"

// Sponsorship is a payment obligation owned by exactly one User.
//
// PaymentID correlates the row with the gateway. It starts as a random
// identifier and is overwritten once, by the gateway's transaction request id,
// right after the session is created.
type Sponsorship struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	PlanType        PlanType      `json:"plan_type"`
	AmountCents     int64         `json:"-"`
	Currency        string        `json:"currency"`
	PaymentID       string        `json:"-"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	InvoiceURL      string        `json:"invoice_url"`
	TransactionID   string        `json:"-"`
	TeamSize        int           `json:"team_size"`
	GitHubSponsorID string        `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
}

// Amount renders AmountCents as a decimal string, e.g. "49.00".
func (s *Sponsorship) Amount() string {
	return FormatCents(s.AmountCents)
}

// FormatCents renders an amount in cents with two decimals.
func FormatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// Sponsor is a completed sponsorship joined with the public profile of its
// owner, used for badges and the sponsor list.
type Sponsor struct {
	GitHubUsername string
	AvatarURL      string
	PlanType       PlanType
	CompletedAt    time.Time
}
