// Package config loads the service configuration from the environment.
//
// An optional .env file is read first with godotenv; variables already set in
// the process environment win over it. viper then resolves every key against
// the environment with the defaults below.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete application configuration. Each component gets its
// own slice of it at construction time.
type Config struct {
	Port     int
	BaseURL  string
	DBPath   string
	LogLevel slog.Level

	SecretKey string
	TokenTTL  time.Duration

	GitHubClientID       string
	GitHubClientSecret   string
	GoogleClientID       string
	GoogleClientSecret   string
	LinkedInClientID     string
	LinkedInClientSecret string

	FlexPayURL          string
	FlexPayClientID     string
	FlexPayClientSecret string

	GitHubSponsorsToken string
	GitHubAPIURL        string
	TaggingQueueSize    int

	GitHubWebhookSecret  string
	LabUpdateScript      string
	WorkshopUpdateScript string
	ScriptTimeout        time.Duration

	CertificatesDir        string
	SupportedYears         []string
	LinkedInOrganizationID string
	CertIssueMonth         int
}

var defaults = map[string]any{
	"PORT":                     8000,
	"BASE_URL":                 "http://localhost:8000",
	"DB_PATH":                  "data/services.db",
	"LOG_LEVEL":                "info",
	"SECRET_KEY":               "",
	"TOKEN_TTL":                "15m",
	"GITHUB_CLIENT_ID":         "",
	"GITHUB_CLIENT_SECRET":     "",
	"GOOGLE_CLIENT_ID":         "",
	"GOOGLE_CLIENT_SECRET":     "",
	"LINKEDIN_CLIENT_ID":       "",
	"LINKEDIN_CLIENT_SECRET":   "",
	"FLEXPAY_URL":              "https://api.flexpay.com",
	"FLEXPAY_CLIENT_ID":        "",
	"FLEXPAY_CLIENT_SECRET":    "",
	"GITHUB_SPONSORS_TOKEN":    "",
	"GITHUB_API_URL":           "https://api.github.com",
	"TAGGING_QUEUE_SIZE":       64,
	"GITHUB_WEBHOOK_SECRET":    "",
	"LAB_UPDATE_SCRIPT":        "update_lab_website.sh",
	"WORKSHOP_UPDATE_SCRIPT":   "update_workshop.sh",
	"SCRIPT_TIMEOUT":           "10m",
	"CERTIFICATES_DIR":         "certificates",
	"SUPPORTED_YEARS":          "2023,2024,2025",
	"LINKEDIN_ORGANIZATION_ID": "18898741",
	"CERT_ISSUE_MONTH":         5,
}

// Load reads envFile (if it exists) and the process environment. An empty
// envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		BaseURL:  strings.TrimRight(v.GetString("BASE_URL"), "/"),
		DBPath:   v.GetString("DB_PATH"),
		LogLevel: level,

		SecretKey: v.GetString("SECRET_KEY"),
		TokenTTL:  v.GetDuration("TOKEN_TTL"),

		GitHubClientID:       v.GetString("GITHUB_CLIENT_ID"),
		GitHubClientSecret:   v.GetString("GITHUB_CLIENT_SECRET"),
		GoogleClientID:       v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:   v.GetString("GOOGLE_CLIENT_SECRET"),
		LinkedInClientID:     v.GetString("LINKEDIN_CLIENT_ID"),
		LinkedInClientSecret: v.GetString("LINKEDIN_CLIENT_SECRET"),

		FlexPayURL:          v.GetString("FLEXPAY_URL"),
		FlexPayClientID:     v.GetString("FLEXPAY_CLIENT_ID"),
		FlexPayClientSecret: v.GetString("FLEXPAY_CLIENT_SECRET"),

		GitHubSponsorsToken: v.GetString("GITHUB_SPONSORS_TOKEN"),
		GitHubAPIURL:        v.GetString("GITHUB_API_URL"),
		TaggingQueueSize:    v.GetInt("TAGGING_QUEUE_SIZE"),

		GitHubWebhookSecret:  v.GetString("GITHUB_WEBHOOK_SECRET"),
		LabUpdateScript:      v.GetString("LAB_UPDATE_SCRIPT"),
		WorkshopUpdateScript: v.GetString("WORKSHOP_UPDATE_SCRIPT"),
		ScriptTimeout:        v.GetDuration("SCRIPT_TIMEOUT"),

		CertificatesDir:        v.GetString("CERTIFICATES_DIR"),
		SupportedYears:         splitList(v.GetString("SUPPORTED_YEARS")),
		LinkedInOrganizationID: v.GetString("LINKEDIN_ORGANIZATION_ID"),
		CertIssueMonth:         v.GetInt("CERT_ISSUE_MONTH"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}
	if cfg.CertIssueMonth < 1 || cfg.CertIssueMonth > 12 {
		return nil, fmt.Errorf("config: CERT_ISSUE_MONTH %d out of range", cfg.CertIssueMonth)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CallbackURL is the OAuth redirect URI registered for provider.
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/services/auth/" + provider + "/callback"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
