package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/dipy-services/internal/executor"
	"github.com/sakif/dipy-services/internal/webhook"
)

// maxWebhookBody bounds a GitHub delivery; GitHub itself caps payloads at 25MB.
const maxWebhookBody = 25 << 20

// Site is a website redeployed by a webhook.
type Site struct {
	Name   string // shown in responses, e.g. "Lab Website"
	Script string
}

// WebhookHandler redeploys sites when GitHub reports a change on their
// default branch.
type WebhookHandler struct {
	secret string
	exec   executor.Executor
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret makes every
// delivery fail with a configuration error.
func NewWebhookHandler(secret string, exec executor.Executor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		exec:   exec,
		logger: logger,
	}
}

// Healthcheck
//
// HTTP: GET /services/webhooks/healthcheck
func (h *WebhookHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from DIPY Webhook Service!"})
}

// WebhookResponse is the body of every handled delivery.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Zen     string `json:"zen,omitempty"`
}

// Site returns the handler for one site's deliveries.
//
// HTTP: POST /services/webhooks/lab, POST /services/webhooks/workshop
//
// The signature is checked against the raw body before anything is parsed.
// The update script runs synchronously; GitHub's delivery log then shows
// whether it worked.
func (h *WebhookHandler) Site(site Site) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "could not read body"})
			return
		}

		if err := webhook.VerifySignature(h.secret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			h.logger.Warn("webhook rejected", slog.String("site", site.Name), slog.String("error", err.Error()))
			writeError(w, err)
			return
		}

		payload, err := webhook.ParsePayload(body)
		if err != nil {
			writeError(w, err)
			return
		}

		event := r.Header.Get(webhook.EventHeader)
		action := webhook.Decide(event, payload)
		h.logger.Info("webhook received",
			slog.String("site", site.Name),
			slog.String("event", event),
			slog.String("action", payload.Action),
			slog.String("decision", action.String()),
		)

		switch action {
		case webhook.Ping:
			writeJSON(w, http.StatusOK, WebhookResponse{
				Status:  "ok",
				Message: "Ping event received for " + site.Name,
				Zen:     payload.Zen,
			})
		case webhook.Run:
			h.runUpdate(w, r, site)
		default:
			writeJSON(w, http.StatusOK, WebhookResponse{
				Status:  "ignored",
				Message: "Event " + event + " (action: " + payload.Action + ") ignored for " + site.Name,
			})
		}
	}
}

func (h *WebhookHandler) runUpdate(w http.ResponseWriter, r *http.Request, site Site) {
	result, err := h.exec.Execute(r.Context(), executor.ExecutionRequest{Script: site.Script})
	if err != nil {
		h.logger.Error("update script failed to run", slog.String("site", site.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, WebhookResponse{
			Status:  "error",
			Message: "Script error for " + site.Name + ": " + err.Error(),
		})
		return
	}

	if !result.Succeeded() {
		h.logger.Error("update script exited non-zero",
			slog.String("site", site.Name),
			slog.Int("exitCode", result.ExitCode),
			slog.String("stderr", result.Stderr),
		)
		writeJSON(w, http.StatusInternalServerError, WebhookResponse{
			Status:  "error",
			Message: "Script error for " + site.Name + ": " + strings.TrimSpace(result.Stderr),
		})
		return
	}

	h.logger.Info("update script finished",
		slog.String("site", site.Name),
		slog.Duration("duration", result.Duration),
	)
	writeJSON(w, http.StatusOK, WebhookResponse{
		Status:  "success",
		Message: site.Name + " updated successfully",
	})
}
