// Package sponsors keeps track of which GitHub accounts sponsor the project.
//
// Sponsors are tracked internally: GitHub's own Sponsors API is not involved.
// When a payment completes, the payer's GitHub profile is looked up and the
// resulting sponsor id is stored on the sponsorship. The lookup is best effort
// and runs off the request path through Queue.
package sponsors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
)

// Record statuses.
const (
	StatusMarked       = "marked_as_sponsor"
	StatusMarkedNoInfo = "marked_as_sponsor_no_github_info"
)

// Config is the sponsor client's slice of the application configuration.
type Config struct {
	// Token is a GitHub token used for profile lookups. Without it lookups
	// are skipped and every sponsor gets the fallback record.
	Token  string
	APIURL string
}

// GitHubUser is the part of GET /user/{id} we keep.
type GitHubUser struct {
	Login      string `json:"login"`
	AvatarURL  string `json:"avatar_url"`
	ProfileURL string `json:"html_url"`
	Name       string `json:"name"`
}

// SponsorRecord is the outcome of marking a user as a sponsor. ID is the
// GitHub id and is what ends up in sponsorships.github_sponsor_id.
type SponsorRecord struct {
	ID             string
	GitHubUsername string
	AvatarURL      string
	ProfileURL     string
	FullName       string
	PlanType       model.PlanType
	Status         string
}

// Client looks up GitHub users.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// LookupUser fetches GET {api}/user/{githubID}.
func (c *Client) LookupUser(ctx context.Context, githubID string) (*GitHubUser, error) {
	if c.cfg.Token == "" {
		return nil, apperror.NotConfigured("GitHub sponsors token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/user/"+url.PathEscape(githubID), nil)
	if err != nil {
		return nil, fmt.Errorf("sponsors: building lookup request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Upstream("could not reach GitHub", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.Upstream("could not get GitHub user info", fmt.Errorf("status %d", resp.StatusCode))
	}

	var u GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("sponsors: decoding GitHub user: %w", err)
	}
	return &u, nil
}

// MarkAsSponsor records githubID as a sponsor on the given plan.
//
// A failed or skipped lookup is not an error: the record then carries
// StatusMarkedNoInfo and a "user_<id>" placeholder username.
func (c *Client) MarkAsSponsor(ctx context.Context, githubID string, plan model.PlanType) (*SponsorRecord, error) {
	if githubID == "" {
		return nil, apperror.ValidationFailed("github_id", "github id is required")
	}

	u, err := c.LookupUser(ctx, githubID)
	if err != nil {
		c.logger.Warn("github user lookup failed, using fallback sponsor record",
			"github_id", githubID, "error", err)
		return &SponsorRecord{
			ID:             githubID,
			GitHubUsername: "user_" + githubID,
			PlanType:       plan,
			Status:         StatusMarkedNoInfo,
		}, nil
	}

	c.logger.Info("marked github user as sponsor", "login", u.Login, "plan", plan)
	return &SponsorRecord{
		ID:             githubID,
		GitHubUsername: u.Login,
		AvatarURL:      u.AvatarURL,
		ProfileURL:     u.ProfileURL,
		FullName:       u.Name,
		PlanType:       plan,
		Status:         StatusMarked,
	}, nil
}
