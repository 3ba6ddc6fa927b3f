// Package server wires the services together and runs the HTTP server.
//
// New is the composition root: it opens the database, builds every service
// and handler from the configuration and mounts them under /services. main
// stays a thin command-line layer around it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/badge"
	"github.com/sakif/dipy-services/internal/certificate"
	"github.com/sakif/dipy-services/internal/config"
	"github.com/sakif/dipy-services/internal/executor/shell"
	"github.com/sakif/dipy-services/internal/handler"
	"github.com/sakif/dipy-services/internal/middleware"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/payment"
	sqliteRepo "github.com/sakif/dipy-services/internal/repository/sqlite"
	"github.com/sakif/dipy-services/internal/service"
	"github.com/sakif/dipy-services/internal/sponsors"
)

// outboundTimeout bounds every call to a provider, the gateway or GitHub.
const outboundTimeout = 30 * time.Second

// shutdownTimeout is how long in-flight requests get after a stop signal.
// A webhook running an update script may need most of it.
const shutdownTimeout = 30 * time.Second

// Server owns the router and the resources behind it: the database
// connection and the sponsor tagging queue.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	queue  *sponsors.Queue
}

// New builds the whole application from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() error {
	cfg := s.config
	httpClient := &http.Client{Timeout: outboundTimeout}

	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("SECRET_KEY: %w", err)
	}

	providers := []auth.Provider{
		auth.NewGitHubProvider(auth.ProviderConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			HTTPClient:   httpClient,
		}),
		auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(string(model.ProviderGoogle)),
			HTTPClient:   httpClient,
		}),
		auth.NewLinkedInProvider(auth.ProviderConfig{
			ClientID:     cfg.LinkedInClientID,
			ClientSecret: cfg.LinkedInClientSecret,
			RedirectURL:  cfg.CallbackURL(string(model.ProviderLinkedIn)),
			HTTPClient:   httpClient,
		}),
	}
	for _, p := range providers {
		if !p.Configured() {
			s.logger.Warn("OAuth provider not configured, its login answers 500", slog.String("provider", string(p.Name())))
		}
	}

	users := s.db.Users()
	sponsorships := s.db.Sponsorships()

	authService := service.NewAuthService(users, tokens, auth.NewPasswordService(), providers, s.logger)

	gateway := payment.NewClient(payment.Config{
		BaseURL:      cfg.FlexPayURL,
		ClientID:     cfg.FlexPayClientID,
		ClientSecret: cfg.FlexPayClientSecret,
	}, httpClient, s.logger)
	if !gateway.Configured() {
		s.logger.Warn("FlexPay credentials not set, payment sessions will fail")
	}

	githubUsers := sponsors.NewClient(sponsors.Config{
		Token:  cfg.GitHubSponsorsToken,
		APIURL: cfg.GitHubAPIURL,
	}, httpClient, s.logger)
	s.queue = sponsors.NewQueue(githubUsers, sponsorships, cfg.TaggingQueueSize, s.logger)

	sponsorshipService := service.NewSponsorshipService(sponsorships, users, gateway, s.queue, cfg.BaseURL, s.logger)

	pages, err := handler.NewPages(s.logger)
	if err != nil {
		return err
	}
	badges, err := badge.NewRenderer(cfg.BaseURL + "/services/sponsors")
	if err != nil {
		return err
	}
	resolver := certificate.NewResolver(certificate.Config{
		Root:           cfg.CertificatesDir,
		SupportedYears: cfg.SupportedYears,
		OrganizationID: cfg.LinkedInOrganizationID,
		IssueMonth:     cfg.CertIssueMonth,
	}, s.logger)
	scripts := shell.New(shell.Config{Timeout: cfg.ScriptTimeout}, s.logger)
	if cfg.GitHubWebhookSecret == "" {
		s.logger.Warn("GITHUB_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
	}

	authHandler := handler.NewAuthHandler(authService, cfg.BaseURL, cfg.TokenTTL, s.logger)
	certHandler := handler.NewCertificateHandler(resolver, pages, cfg.BaseURL, s.logger)
	sponsorHandler := handler.NewSponsorHandler(sponsorshipService, authService, pages, badges, s.logger)
	webhookHandler := handler.NewWebhookHandler(cfg.GitHubWebhookSecret, scripts, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/services", http.StatusTemporaryRedirect)
	})
	s.router.Get("/services", handler.Services)

	s.router.Route("/services/certificates", func(r chi.Router) {
		r.Get("/healthcheck", certHandler.Healthcheck)
		r.Get("/", certHandler.Index)
		r.Post("/search", certHandler.Search)
		r.Get("/view/{year}/{file}", certHandler.View)
		r.Get("/download/{year}/{file}", certHandler.Download)
	})

	s.router.Route("/services/auth", func(r chi.Router) {
		r.Get("/me", authHandler.Me)
		r.Get("/logout", authHandler.Logout)
		r.Post("/email/register", authHandler.Register)
		r.Post("/email/login", authHandler.EmailLogin)
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)
	})

	s.router.Route("/services/sponsors", func(r chi.Router) {
		r.Get("/", sponsorHandler.Landing)
		r.Get("/payment-success", sponsorHandler.PaymentSuccess)
		r.Get("/payment-cancel", sponsorHandler.PaymentCancel)
		r.Post("/flexpay-webhook", sponsorHandler.FlexPayWebhook)
		r.Get("/badge.svg", sponsorHandler.Badge)
		r.Get("/SPONSORS.md", sponsorHandler.SponsorsMarkdown)
		r.Get("/profile.md", sponsorHandler.ProfileSnippet)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/my-sponsorships", sponsorHandler.MySponsorships)
			r.Post("/create-payment-session", sponsorHandler.CreatePaymentSession)
		})
	})

	s.router.Route("/services/webhooks", func(r chi.Router) {
		r.Get("/healthcheck", webhookHandler.Healthcheck)
		r.Post("/lab", webhookHandler.Site(handler.Site{Name: "Lab Website", Script: cfg.LabUpdateScript}))
		r.Post("/workshop", webhookHandler.Site(handler.Site{Name: "Workshop Website", Script: cfg.WorkshopUpdateScript}))
	})

	return nil
}

// Start runs the server until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully: stop accepting
// connections, let in-flight requests finish, drain the tagging queue and
// close the database.
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()

	s.queue.Start()
	defer s.queue.Stop()

	// WriteTimeout is left unset: webhook handlers wait for update scripts,
	// which are bounded by SCRIPT_TIMEOUT instead.
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("baseURL", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Migrate creates the schema in the configured database and exits.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	logger.Info("database schema is up to date", slog.String("database", cfg.DBPath))
	return db.Close()
}

// openDB creates the parent directory of a file database, like mkdir -p,
// and opens it. Opening runs the migrations.
func openDB(path string) (*sqliteRepo.DB, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
