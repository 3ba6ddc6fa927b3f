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

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, email, username, full_name, github_id, google_id, linkedin_id,
	avatar_url, github_username, linkedin_username, password_hash, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row selected with userColumns.
//
// The optional identity columns scan straight into *string: database/sql
// leaves the pointer nil for NULL and allocates a string otherwise.
func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FullName,
		&u.GitHubID,
		&u.GoogleID,
		&u.LinkedInID,
		&u.AvatarURL,
		&u.GitHubUsername,
		&u.LinkedInUsername,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts user and fills in its ID and timestamps.
//
// A UNIQUE collision (email, username or one of the provider ids) comes back
// as apperror.ErrConflict. The OAuth login path relies on that to detect two
// callbacks for the same provider id racing each other.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (email, username, full_name, github_id, google_id, linkedin_id,
			avatar_url, github_username, linkedin_username, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Email,
		user.Username,
		user.FullName,
		user.GitHubID,
		user.GoogleID,
		user.LinkedInID,
		user.AvatarURL,
		user.GitHubUsername,
		user.LinkedInUsername,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	user.ID = id

	return nil
}

// GetByID retrieves a user by internal id.
func (db *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address.
func (db *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// GetByProviderID retrieves the user registered with the given provider id.
func (db *UserDB) GetByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	// The column name comes from a closed set, never from input.
	var column string
	switch provider {
	case model.ProviderGitHub:
		column = "github_id"
	case model.ProviderGoogle:
		column = "google_id"
	case model.ProviderLinkedIn:
		column = "linkedin_id"
	default:
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("unknown provider %q", provider))
	}

	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, providerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(string(provider)+" user", providerID)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}
