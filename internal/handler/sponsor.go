package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/auth"
	"github.com/sakif/dipy-services/internal/badge"
	"github.com/sakif/dipy-services/internal/model"
	"github.com/sakif/dipy-services/internal/service"
)

// SponsorHandler serves the sponsorship flow and the public sponsor
// artifacts under /services/sponsors.
//
//	Landing                → plans, or the active sponsorship when signed in
//	CreatePaymentSession   → pending sponsorship + gateway redirect URL
//	PaymentSuccess/Cancel  → where the gateway sends the payer back
//	FlexPayWebhook         → status pushed by the gateway
//	Badge/SponsorsMarkdown → public artifacts for READMEs
type SponsorHandler struct {
	sponsorships *service.SponsorshipService
	auth         *service.AuthService
	pages        *Pages
	badges       *badge.Renderer
	logger       *slog.Logger
	now          func() time.Time
}

func NewSponsorHandler(
	sponsorships *service.SponsorshipService,
	authService *service.AuthService,
	pages *Pages,
	badges *badge.Renderer,
	logger *slog.Logger,
) *SponsorHandler {
	return &SponsorHandler{
		sponsorships: sponsorships,
		auth:         authService,
		pages:        pages,
		badges:       badges,
		logger:       logger,
		now:          time.Now,
	}
}

type planView struct {
	Type        model.PlanType
	Title       string
	Price       string
	Description string
}

var planViews = func() []planView {
	individual, _ := model.LookupPlan(model.PlanIndividual)
	team, _ := model.LookupPlan(model.PlanTeam)
	return []planView{
		{
			Type:        model.PlanIndividual,
			Title:       "Individual",
			Price:       model.FormatCents(individual.AmountCents),
			Description: "Support DIPY as an individual sponsor.",
		},
		{
			Type:        model.PlanTeam,
			Title:       "Team",
			Price:       model.FormatCents(team.AmountCents),
			Description: "Sponsorship for a team of up to " + strconv.Itoa(team.TeamSize) + " people.",
		},
	}
}()

type landingPage struct {
	Title  string
	Error  string
	User   *model.User
	Active *model.Sponsorship
	Plans  []planView
	Token  string
}

// Landing renders the sponsors page.
//
// HTTP: GET /services/sponsors?token=<jwt>
//
// An invalid or missing token is not an error here; the page just shows
// the sign-in links.
func (h *SponsorHandler) Landing(w http.ResponseWriter, r *http.Request) {
	data := landingPage{
		Title: "Sponsor DIPY",
		Error: r.URL.Query().Get("error"),
		Plans: planViews,
	}

	token := auth.TokenFromRequest(r)
	if claims, err := h.auth.Authenticate(token); err == nil {
		user, err := h.auth.CurrentUser(r.Context(), claims)
		if err == nil {
			data.User = user
			data.Token = token
			data.Active, err = h.sponsorships.ActiveSponsorship(r.Context(), user.ID)
			if err != nil {
				h.logger.Error("loading active sponsorship", slog.Int64("userID", user.ID), slog.String("error", err.Error()))
			}
		}
	}

	h.pages.page(w, http.StatusOK, "sponsors", data)
}

// SponsorshipResponse is one entry of GET /services/sponsors/my-sponsorships.
type SponsorshipResponse struct {
	ID            int64               `json:"id"`
	PlanType      model.PlanType      `json:"plan_type"`
	Amount        json.Number         `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	InvoiceURL    *string             `json:"invoice_url"`
	TeamSize      int                 `json:"team_size"`
	CreatedAt     *time.Time          `json:"created_at"`
	CompletedAt   *time.Time          `json:"completed_at"`
}

// MySponsorships lists the caller's sponsorships, newest first.
//
// HTTP: GET /services/sponsors/my-sponsorships
// Auth: Required
func (h *SponsorHandler) MySponsorships(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	list, err := h.sponsorships.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing sponsorships", slog.Int64("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	out := make([]SponsorshipResponse, 0, len(list))
	for i := range list {
		sp := &list[i]
		resp := SponsorshipResponse{
			ID:            sp.ID,
			PlanType:      sp.PlanType,
			Amount:        json.Number(sp.Amount()),
			Currency:      sp.Currency,
			PaymentStatus: sp.PaymentStatus,
			InvoiceURL:    model.StringPtr(sp.InvoiceURL),
			TeamSize:      sp.TeamSize,
			CompletedAt:   sp.CompletedAt,
		}
		if !sp.CreatedAt.IsZero() {
			resp.CreatedAt = &sp.CreatedAt
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePaymentSession starts a sponsorship.
//
// HTTP: POST /services/sponsors/create-payment-session
// Form: plan_type, token
// Auth: Required
//
// The gateway can accept a session without being able to take card
// payments yet; that case answers 503 with a notification for the page.
func (h *SponsorHandler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())

	planType := model.PlanType(r.PostFormValue("plan_type"))
	result, err := h.sponsorships.Create(r.Context(), userID, claims.Email, planType)
	if errors.Is(err, service.ErrGatewayNotReady) {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"notification": "Payment system is not ready. Please try again later."})
		return
	}
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("creating payment session", slog.Int64("userID", userID), slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"redirect_url": result.RedirectURL})
}

// userID reads the caller from the claims RequireAuth stored.
func (h *SponsorHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Invalid token"))
		return 0, false
	}
	id, err := claims.UserID()
	if err != nil {
		writeError(w, apperror.Unauthorized("Invalid token"))
		return 0, false
	}
	return id, true
}

type thankYouPage struct {
	Title   string
	Message string
	IsError bool
}

// PaymentSuccess settles the sponsorship the gateway returned the payer for.
//
// HTTP: GET /services/sponsors/payment-success?sponsorship_id=<id>
func (h *SponsorHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	id, err := sponsorshipID(r)
	if err != nil {
		writeHTML(w, http.StatusBadRequest, "Invalid sponsorship id.")
		return
	}

	result, err := h.sponsorships.Resolve(r.Context(), id)
	if errors.Is(err, apperror.ErrNotFound) {
		writeHTML(w, http.StatusNotFound, "Sponsorship not found.")
		return
	}
	if err != nil {
		h.logger.Error("resolving payment", slog.Int64("sponsorshipID", id), slog.String("error", err.Error()))
		writeHTML(w, http.StatusInternalServerError, "Something went wrong while confirming your payment.")
		return
	}

	h.pages.page(w, http.StatusOK, "thank_you", thankYouPage{
		Title:   "DIPY Sponsorship",
		Message: result.Message,
		IsError: result.IsError(),
	})
}

// PaymentCancel records that the payer backed out at the gateway.
//
// HTTP: GET /services/sponsors/payment-cancel?sponsorship_id=<id>
func (h *SponsorHandler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	if id, err := sponsorshipID(r); err == nil {
		if err := h.sponsorships.Cancel(r.Context(), id); err != nil {
			h.logger.Error("cancelling sponsorship", slog.Int64("sponsorshipID", id), slog.String("error", err.Error()))
		}
	}
	writeHTML(w, http.StatusOK, "<h2>Payment was cancelled.</h2>")
}

func sponsorshipID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get("sponsorship_id"), 10, 64)
}

// flexPayNotification accepts the payment id under either key.
type flexPayNotification struct {
	ID         flexibleID `json:"id"`
	PaymentID  flexibleID `json:"payment_id"`
	Status     string     `json:"status"`
	InvoiceURL string     `json:"invoice_url"`
}

// flexibleID is an identifier sent either as a JSON string or a number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n)
	return nil
}

// FlexPayWebhook applies a status notification from the gateway.
//
// HTTP: POST /services/sponsors/flexpay-webhook
// Body: {"id"|"payment_id": "...", "status": "...", "invoice_url": "..."}
func (h *SponsorHandler) FlexPayWebhook(w http.ResponseWriter, r *http.Request) {
	var body flexPayNotification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	paymentID := string(body.ID)
	if paymentID == "" {
		paymentID = string(body.PaymentID)
	}

	err := h.sponsorships.ApplyWebhook(r.Context(), service.Notification{
		PaymentID:  paymentID,
		Status:     model.PaymentStatus(body.Status),
		InvoiceURL: body.InvoiceURL,
	})

	var appErr *apperror.AppError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, apperror.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sponsorship not found"})
	case errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": appErr.Message})
	default:
		h.logger.Error("applying payment webhook", slog.String("paymentID", paymentID), slog.String("error", err.Error()))
		writeError(w, err)
	}
}

// Badge serves the sponsor count badge.
//
// HTTP: GET /services/sponsors/badge.svg
func (h *SponsorHandler) Badge(w http.ResponseWriter, r *http.Request) {
	list, ok := h.sponsorList(w, r)
	if !ok {
		return
	}
	h.artifact(w, "image/svg+xml", func() (string, error) { return h.badges.SVG(len(list)) })
}

// SponsorsMarkdown serves SPONSORS.md.
//
// HTTP: GET /services/sponsors/SPONSORS.md
func (h *SponsorHandler) SponsorsMarkdown(w http.ResponseWriter, r *http.Request) {
	list, ok := h.sponsorList(w, r)
	if !ok {
		return
	}
	h.artifact(w, "text/markdown; charset=utf-8", func() (string, error) { return h.badges.Markdown(list, h.now()) })
}

// ProfileSnippet serves the README sponsor block.
//
// HTTP: GET /services/sponsors/profile.md
func (h *SponsorHandler) ProfileSnippet(w http.ResponseWriter, r *http.Request) {
	list, ok := h.sponsorList(w, r)
	if !ok {
		return
	}
	h.artifact(w, "text/markdown; charset=utf-8", func() (string, error) { return h.badges.ProfileSection(list) })
}

func (h *SponsorHandler) sponsorList(w http.ResponseWriter, r *http.Request) ([]model.Sponsor, bool) {
	list, err := h.sponsorships.Sponsors(r.Context())
	if err != nil {
		h.logger.Error("listing sponsors", slog.String("error", err.Error()))
		writeError(w, err)
		return nil, false
	}
	return list, true
}

// artifact writes a rendered artifact. README renderers cache images
// aggressively, so the response asks them not to.
func (h *SponsorHandler) artifact(w http.ResponseWriter, contentType string, render func() (string, error)) {
	body, err := render()
	if err != nil {
		h.logger.Error("rendering sponsor artifact", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, max-age=0")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
