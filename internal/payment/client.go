// Package payment is the client for the FlexPay hosted payment gateway.
//
// GATEWAY FLOW:
//  1. CreateSession registers a payment request and returns a redirect URL
//     to FlexPay's hosted card form.
//  2. The payer authorizes on FlexPay, which sends the browser back to our
//     ReturnURL.
//  3. VerifyPayment reads the request's status; "authorized" means the card
//     was accepted but no money has moved yet.
//  4. ExecutePayment captures an authorized request and returns the invoice.
//
// Every call re-authenticates with the client credentials grant. Nothing is
// cached and nothing is retried; a failed call is reported to the caller.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sakif/dipy-services/internal/apperror"
	"github.com/sakif/dipy-services/internal/model"
)

// Fixed texts shown on the hosted payment page.
const (
	pageTitle         = "DIPY SPONSOR PAYMENT OPTIONS"
	paymentScreenText = "Please enter your Credit Card information."
	patronType        = "Anonymous"
)

// Config is the gateway's slice of the application configuration.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// Client talks to one FlexPay deployment.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a gateway client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   httpClient,
		logger: logger,
	}
}

// Configured reports whether client id and secret are set.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// BearerToken runs the client credentials grant against {base}/oauth/token.
//
// The id and secret are URL-escaped and sent as HTTP Basic credentials
// (oauth2.AuthStyleInHeader does both). The gateway must answer with
// token_type "bearer"; anything else is rejected.
func (c *Client) BearerToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", apperror.NotConfigured("FlexPay")
	}

	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.base + "/oauth/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// Config.Token always performs a fresh request; only TokenSource caches.
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return "", apperror.Upstream("could not get payment gateway token", err)
	}
	if !strings.EqualFold(tok.TokenType, "bearer") {
		return "", apperror.Upstream("invalid token type received", fmt.Errorf("token_type %q", tok.TokenType))
	}

	return tok.AccessToken, nil
}

// =========================================================================
// SESSION
// =========================================================================

// SessionRequest describes one payment to collect.
type SessionRequest struct {
	AmountCents int64
	Currency    string
	PayerEmail  string
	PlanType    model.PlanType
	UserID      int64
	// Reference is echoed back by the gateway as the client transaction number.
	Reference string
	ReturnURL string
	// CancelURL is accepted for symmetry; FlexPay sends both outcomes to ReturnURL.
	CancelURL string
}

type creditCardProcessing struct {
	PaymentScreenText       string `json:"PaymentScreenText"`
	ClientTransactionNumber string `json:"ClientTransactionNumber"`
	Comment                 string `json:"Comment"`
	ReceiptText             string `json:"ReceiptText"`
}

type sessionPayload struct {
	Operator         string `json:"Operator"`
	PatronType       string `json:"PatronType"`
	PatronIdentifier string `json:"PatronIdentifier"`
	ReturnURL        string `json:"ReturnURL"`
	PageTitle        string `json:"PageTitle"`
	Amount           string `json:"Amount"`
	Payments         struct {
		CreditCardProcessing creditCardProcessing `json:"CreditCardProcessing"`
	} `json:"Payments"`
}

// SessionResponse is the gateway's answer to CreateSession.
type SessionResponse struct {
	TransactionRequestID flexString `json:"TransactionRequestId"`
	ID                   flexString `json:"id"`
	RedirectURL          string     `json:"FlexPayRedirectUrl"`
	PaymentsReady        struct {
		CCP bool `json:"CCP"`
	} `json:"PaymentsReady"`
}

// PaymentID is the id later used for status and execute calls.
func (s *SessionResponse) PaymentID() string {
	if s.TransactionRequestID != "" {
		return string(s.TransactionRequestID)
	}
	return string(s.ID)
}

// Ready reports whether the gateway can take card payments right now.
func (s *SessionResponse) Ready() bool {
	return s.PaymentsReady.CCP
}

// CreateSession posts a payment request to {base}/api/v1/payment.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	var p sessionPayload
	p.Operator = req.PayerEmail
	p.PatronType = patronType
	p.PatronIdentifier = fmt.Sprint(req.UserID)
	p.ReturnURL = req.ReturnURL
	p.PageTitle = pageTitle
	p.Amount = model.FormatCents(req.AmountCents)
	p.Payments.CreditCardProcessing = creditCardProcessing{
		PaymentScreenText:       paymentScreenText,
		ClientTransactionNumber: req.Reference,
		Comment:                 fmt.Sprintf("DIPY %s sponsorship", req.PlanType),
		ReceiptText:             fmt.Sprintf("Thank you for sponsoring DIPY (%s plan, %s %s).", req.PlanType, p.Amount, req.Currency),
	}

	var resp SessionResponse
	if err := c.do(ctx, "create session", http.MethodPost, "/api/v1/payment", p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =========================================================================
// STATUS / EXECUTE
// =========================================================================

// StatusResponse is the current state of a payment request.
type StatusResponse struct {
	CreateResponse struct {
		TransactionRequestStatus string `json:"TransactionRequestStatus"`
	} `json:"CreateResponse"`
	InvoiceURL    string         `json:"invoice_url"`
	TransactionID TransactionIDs `json:"TransactionId"`
	ID            flexString     `json:"id"`
}

// Status is TransactionRequestStatus lower-cased, e.g. "authorized".
func (s *StatusResponse) Status() string {
	return strings.ToLower(s.CreateResponse.TransactionRequestStatus)
}

// SettlementID is the first transaction id, falling back to the request id.
func (s *StatusResponse) SettlementID() string {
	if id := s.TransactionID.First(); id != "" {
		return id
	}
	return string(s.ID)
}

// VerifyPayment fetches {base}/api/v1/transaction/request/status/{id}.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string) (*StatusResponse, error) {
	var resp StatusResponse
	path := "/api/v1/transaction/request/status/" + url.PathEscape(paymentID)
	if err := c.do(ctx, "verify payment", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteResponse is the result of capturing an authorized payment.
type ExecuteResponse struct {
	InvoiceURL    string         `json:"invoice_url"`
	TransactionID TransactionIDs `json:"TransactionId"`
}

// ExecutePayment captures an authorized request via {base}/api/v1/execute.
func (c *Client) ExecutePayment(ctx context.Context, transactionRequestID string) (*ExecuteResponse, error) {
	body := map[string]string{"TransactionRequestId": transactionRequestID}

	var resp ExecuteResponse
	if err := c.do(ctx, "execute payment", http.MethodPost, "/api/v1/execute", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do authenticates, sends one JSON request and decodes the JSON answer.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	token, err := c.BearerToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payment: encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("payment: building %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Upstream("payment gateway unreachable", fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payment: decoding %s response: %w", op, err)
	}

	c.logger.Debug("payment gateway call", "op", op, "status", resp.StatusCode)
	return nil
}

// StatusError is a non-2xx answer from the gateway. It matches
// apperror.ErrUpstream.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment: %s: gateway returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return apperror.ErrUpstream
}
