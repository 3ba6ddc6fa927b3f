// Package model defines the data structures used throughout the application.
package model

import "time"

// Provider identifies an external identity provider a user can sign in with.
type Provider string

const (
	ProviderGitHub   Provider = "github"
	ProviderGoogle   Provider = "google"
	ProviderLinkedIn Provider = "linkedin"
)

// User represents a registered account.
//
// A user is created the first time a provider callback succeeds for a given
// provider id (or through the email registration path). At most one of the
// provider id columns is filled per registration path; each is UNIQUE when set.
//
// Optional columns are pointers so that NULL survives the round trip through
// the database: two users without a username must not collide on the UNIQUE
// index the way two empty strings would.
type User struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	Username         *string   `json:"username"`
	FullName         string    `json:"full_name"`
	GitHubID         *string   `json:"-"`
	GoogleID         *string   `json:"-"`
	LinkedInID       *string   `json:"-"`
	AvatarURL        string    `json:"avatar_url"`
	GitHubUsername   string    `json:"github_username,omitempty"`
	LinkedInUsername string    `json:"linkedin_username,omitempty"`
	PasswordHash     string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AuthMethod reports which provider the account was registered with.
// GitHub wins over Google, Google over LinkedIn; "" means none.
func (u *User) AuthMethod() Provider {
	switch {
	case u.GitHubID != nil && *u.GitHubID != "":
		return ProviderGitHub
	case u.GoogleID != nil && *u.GoogleID != "":
		return ProviderGoogle
	case u.LinkedInID != nil && *u.LinkedInID != "":
		return ProviderLinkedIn
	}
	return ""
}

// ProviderID returns the user's id at the given provider, or "".
func (u *User) ProviderID(p Provider) string {
	var id *string
	switch p {
	case ProviderGitHub:
		id = u.GitHubID
	case ProviderGoogle:
		id = u.GoogleID
	case ProviderLinkedIn:
		id = u.LinkedInID
	}
	if id == nil {
		return ""
	}
	return *id
}

// StringPtr returns nil for "" so optional columns are stored as NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
