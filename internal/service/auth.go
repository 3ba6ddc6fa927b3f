// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services depend on repository interfaces, never on the sqlite package, so
// tests run them against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/repository"
)

// MinPasswordLength applies to the email registration path.
const MinPasswordLength = 8

// AuthService resolves provider logins and email credentials to local
// accounts and issues session tokens for them.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	providers map[model.Provider]auth.Provider
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	providers []auth.Provider,
	logger *slog.Logger,
) *AuthService {
	byName := make(map[model.Provider]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		providers: byName,
		logger:    logger,
	}
}

// AuthResult bundles the resolved user with a freshly issued token.
type AuthResult struct {
	User  *model.User
	Token string
}

// Provider returns the named provider. Unknown names are not found; known
// providers without credentials fail with apperror.ErrConfig.
func (s *AuthService) Provider(name model.Provider) (auth.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperror.NotFound("provider", string(name))
	}
	if !p.Configured() {
		return nil, apperror.NotConfigured(providerTitle(name) + " OAuth")
	}
	return p, nil
}

// LoginWithProvider runs the callback half of the OAuth flow: exchange the
// code, fetch the profile, find or create the account and issue a token.
func (s *AuthService) LoginWithProvider(ctx context.Context, name model.Provider, code string) (*AuthResult, error) {
	if code == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}

	p, err := s.Provider(name)
	if err != nil {
		return nil, err
	}

	token, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %s exchange: %w", name, err)
	}

	profile, err := p.FetchProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %s profile: %w", name, err)
	}
	if profile.ID == "" {
		return nil, apperror.Upstream("profile from "+providerTitle(name)+" has no id", nil)
	}

	user, err := s.resolveUser(ctx, name, profile)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user authenticated via provider",
		slog.String("provider", string(name)),
		slog.Int64("userID", user.ID),
	)
	return s.issue(user)
}

// resolveUser looks the profile up by provider id and creates the account on
// first login. Existing accounts are returned as stored.
//
// Two concurrent first logins can both miss the lookup. The UNIQUE index on
// the provider id column lets only one insert through; the loser re-reads
// and continues with the winner's row.
func (s *AuthService) resolveUser(ctx context.Context, name model.Provider, profile *auth.Profile) (*model.User, error) {
	existing, err := s.users.GetByProviderID(ctx, name, profile.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up %s user %s: %w", name, profile.ID, err)
	}

	user := s.newUserFromProfile(name, profile)
	err = s.users.Create(ctx, user)
	if err == nil {
		s.logger.Info("created user", slog.Int64("userID", user.ID), slog.String("provider", string(name)))
		return user, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, fmt.Errorf("service/auth: creating %s user: %w", name, err)
	}

	if winner, getErr := s.users.GetByProviderID(ctx, name, profile.ID); getErr == nil {
		s.logger.Info("concurrent first login resolved to existing user",
			slog.Int64("userID", winner.ID), slog.String("provider", string(name)))
		return winner, nil
	}

	// Not a race on the provider id: the derived username belongs to
	// someone else. Try once more without one.
	if user.Username == nil {
		return nil, fmt.Errorf("service/auth: creating %s user: %w", name, err)
	}
	s.logger.Warn("username taken, creating user without one",
		slog.String("username", *user.Username), slog.String("provider", string(name)))
	user.Username = nil
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating %s user: %w", name, err)
	}
	return user, nil
}

func (s *AuthService) newUserFromProfile(name model.Provider, profile *auth.Profile) *model.User {
	user := &model.User{
		Email:     profile.Email,
		FullName:  profile.Name,
		AvatarURL: profile.AvatarURL,
	}

	switch name {
	case model.ProviderGitHub:
		login := profile.Login
		if login == "" {
			login = "github_user"
		}
		user.GitHubID = &profile.ID
		user.Username = model.StringPtr(profile.Login)
		user.GitHubUsername = profile.Login
		if user.Email == "" {
			user.Email = login + "@github.user"
			s.logger.Warn("no email from GitHub, using placeholder",
				slog.String("login", login), slog.String("email", user.Email))
		}
		return user

	case model.ProviderGoogle:
		user.GoogleID = &profile.ID
	case model.ProviderLinkedIn:
		user.LinkedInID = &profile.ID
		user.LinkedInUsername = profile.Login
	}

	if user.Email == "" {
		// email is NOT NULL UNIQUE, so an empty one would block the next
		// user in the same situation.
		user.Email = profile.ID + "@" + string(name) + ".user"
		s.logger.Warn("no email from provider, using placeholder",
			slog.String("provider", string(name)), slog.String("email", user.Email))
		return user
	}
	user.Username = model.StringPtr(localPart(user.Email))
	return user
}

// RegisterWithEmail creates a password account and signs it in.
func (s *AuthService) RegisterWithEmail(ctx context.Context, email, password, fullName string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("user", email)
		}
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	s.logger.Info("user registered with email", slog.Int64("userID", user.ID))
	return s.issue(user)
}

// LoginWithEmail checks a password against the stored hash. Unknown email,
// accounts without a password and wrong passwords all fail the same way.
func (s *AuthService) LoginWithEmail(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("Incorrect email or password")

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, invalid
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	if user.PasswordHash == "" {
		return nil, invalid
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, invalid
	}

	return s.issue(user)
}

// Authenticate validates a raw session token.
func (s *AuthService) Authenticate(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, apperror.Unauthorized("Could not validate credentials")
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthorized("Could not validate credentials")
	}
	return claims, nil
}

// CurrentUser loads the account the claims were issued for.
func (s *AuthService) CurrentUser(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	id, err := claims.UserID()
	if err != nil {
		return nil, apperror.Unauthorized("Invalid token")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %d: %w", id, err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "a valid email address is required")
	}
	return strings.ToLower(addr.Address), nil
}

func localPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func providerTitle(name model.Provider) string {
	switch name {
	case model.ProviderGitHub:
		return "GitHub"
	case model.ProviderGoogle:
		return "Google"
	case model.ProviderLinkedIn:
		return "LinkedIn"
	}
	return string(name)
}
