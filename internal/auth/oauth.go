package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
)

// Profile is the provider-neutral shape of an authenticated user's profile.
// Fields a provider does not return are left empty.
type Profile struct {
	ID        string
	Login     string
	Email     string
	Name      string
	AvatarURL string
}

// Provider is one external identity provider in the Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to AuthURL(state).
//  2. The user approves on the provider's site.
//  3. The provider redirects back with a short-lived "code".
//  4. Exchange trades the code for an access token (server-to-server, with
//     the client secret, so the token never touches the browser).
//  5. FetchProfile calls the provider's API with that token.
type Provider interface {
	Name() model.Provider
	// Configured reports whether client id and secret are both set.
	Configured() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// ProviderConfig holds one provider's credentials.
//
// Endpoint and APIURL default to the provider's production URLs; tests point
// them at an httptest server.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is sent with the authorization and token requests. GitHub
	// ignores it and uses the callback registered with the OAuth app.
	RedirectURL string
	Endpoint    oauth2.Endpoint
	APIURL      string
	HTTPClient  *http.Client
}

// oauthProvider carries what the three providers share: the oauth2 config,
// the API base URL and the HTTP client used for both token and API calls.
type oauthProvider struct {
	name    model.Provider
	display string
	config  *oauth2.Config
	apiURL  string
	client  *http.Client
}

func newOAuthProvider(name model.Provider, display string, cfg ProviderConfig, endpoint oauth2.Endpoint, apiURL string, scopes []string) oauthProvider {
	if cfg.Endpoint.TokenURL != "" {
		endpoint = cfg.Endpoint
	}
	if cfg.APIURL != "" {
		apiURL = cfg.APIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return oauthProvider{
		name:    name,
		display: display,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiURL: strings.TrimRight(apiURL, "/"),
		client: client,
	}
}

func (p *oauthProvider) Name() model.Provider { return p.name }

func (p *oauthProvider) Configured() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// AuthURL returns the provider URL to send the user to. state is echoed back
// on the callback and checked against a cookie to stop login CSRF.
func (p *oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token.
//
// x/oauth2 turns both a non-2xx token response and a 2xx body carrying an
// "error" field into *oauth2.RetrieveError; either way the provider said no.
func (p *oauthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !p.Configured() {
		return nil, apperror.NotConfigured(p.display + " OAuth")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Upstream("could not get access token from "+p.display, err)
	}
	return token, nil
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
func (p *oauthProvider) getJSON(ctx context.Context, token *oauth2.Token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("auth: building %s request: %w", p.display, err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return apperror.Upstream("could not reach "+p.display, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperror.Upstream(
			"could not get user info from "+p.display,
			fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body))),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: decoding %s response: %w", p.display, err)
	}
	return nil
}

// =========================================================================
// GITHUB
// =========================================================================

// GitHubProvider signs users in with GitHub. GitHub users often hide their
// email, in which case Profile.Email is empty.
type GitHubProvider struct {
	oauthProvider
}

// NewGitHubProvider requests the "user" and "user:email" scopes. No redirect
// URI is sent; GitHub uses the callback registered with the OAuth app.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	cfg.RedirectURL = ""
	return &GitHubProvider{
		newOAuthProvider(model.ProviderGitHub, "GitHub", cfg, endpoints.GitHub,
			"https://api.github.com", []string{"user", "user:email"}),
	}
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// FetchProfile calls GET /user.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	var u githubUser
	if err := p.getJSON(ctx, token, p.apiURL+"/user", &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, apperror.Upstream("GitHub returned an invalid user", nil)
	}
	return &Profile{
		ID:        strconv.FormatInt(u.ID, 10),
		Login:     u.Login,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}, nil
}

// =========================================================================
// GOOGLE
// =========================================================================

// GoogleProvider signs users in with Google.
type GoogleProvider struct {
	oauthProvider
}

// NewGoogleProvider requests "openid email profile". APIURL, when set,
// replaces https://www.googleapis.com.
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	return &GoogleProvider{
		newOAuthProvider(model.ProviderGoogle, "Google", cfg, endpoints.Google,
			"https://www.googleapis.com", []string{"openid", "email", "profile"}),
	}
}

type googleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchProfile calls GET /oauth2/v2/userinfo.
func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	var u googleUser
	if err := p.getJSON(ctx, token, p.apiURL+"/oauth2/v2/userinfo", &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, apperror.Upstream("Google returned an invalid user", nil)
	}
	return &Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.Picture,
	}, nil
}

// =========================================================================
// LINKEDIN
// =========================================================================

// LinkedInProvider signs users in with LinkedIn. The profile and the email
// address come from two separate API calls.
type LinkedInProvider struct {
	oauthProvider
}

// NewLinkedInProvider requests "r_liteprofile r_emailaddress".
func NewLinkedInProvider(cfg ProviderConfig) *LinkedInProvider {
	return &LinkedInProvider{
		newOAuthProvider(model.ProviderLinkedIn, "LinkedIn", cfg, endpoints.LinkedIn,
			"https://api.linkedin.com", []string{"r_liteprofile", "r_emailaddress"}),
	}
}

type linkedInMe struct {
	ID                 string `json:"id"`
	LocalizedFirstName string `json:"localizedFirstName"`
	LocalizedLastName  string `json:"localizedLastName"`
}

type linkedInEmails struct {
	Elements []struct {
		Handle struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"handle~"`
	} `json:"elements"`
}

// linkedInEmailQuery asks for the member's primary email with the handle
// dereferenced inline.
const linkedInEmailQuery = "/v2/emailAddress?q=members&projection=(elements*(handle~))"

// FetchProfile calls GET /v2/me and then the email endpoint, merging both.
// Email is left empty when LinkedIn returns no element.
func (p *LinkedInProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	var me linkedInMe
	if err := p.getJSON(ctx, token, p.apiURL+"/v2/me", &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, apperror.Upstream("LinkedIn returned an invalid user", nil)
	}

	var emails linkedInEmails
	if err := p.getJSON(ctx, token, p.apiURL+linkedInEmailQuery, &emails); err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:   me.ID,
		Name: strings.TrimSpace(me.LocalizedFirstName + " " + me.LocalizedLastName),
	}
	if len(emails.Elements) > 0 {
		profile.Email = emails.Elements[0].Handle.EmailAddress
	}
	return profile, nil
}
