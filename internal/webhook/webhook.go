// Package webhook verifies GitHub webhook deliveries and decides what a
// delivery asks for.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/sakif/dipy-services/internal/apperror"
)

// Request headers set by GitHub.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
)

const signaturePrefix = "sha256="

// VerifySignature checks header against the HMAC-SHA256 of body keyed with
// secret. The comparison is constant time.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return apperror.NotConfigured("GitHub webhook secret")
	}
	if header == "" {
		return apperror.Unauthorized("Missing " + SignatureHeader + " header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(header)) {
		return apperror.Unauthorized("Invalid signature")
	}
	return nil
}

// Payload is the subset of a GitHub event body the decision depends on.
type Payload struct {
	Action      string `json:"action"`
	Ref         string `json:"ref"`
	Zen         string `json:"zen"`
	PullRequest *struct {
		Merged bool `json:"merged"`
		Base   struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
}

// ParsePayload decodes a delivery body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperror.ValidationFailed("payload", "Invalid JSON payload")
	}
	return &p, nil
}

// Action is what a delivery should trigger.
type Action int

const (
	Ignore Action = iota
	Ping
	Run
)

func (a Action) String() string {
	switch a {
	case Ping:
		return "ping"
	case Run:
		return "run"
	}
	return "ignore"
}

// Decide maps an event to an action. Only changes landing on the default
// branch trigger a run: a push to main or master, or a pull request merged
// into one of them.
func Decide(event string, p *Payload) Action {
	switch event {
	case "ping":
		return Ping
	case "push":
		if p.Ref == "refs/heads/main" || p.Ref == "refs/heads/master" {
			return Run
		}
	case "pull_request":
		if p.Action == "closed" && p.PullRequest != nil && p.PullRequest.Merged &&
			isDefaultBranch(p.PullRequest.Base.Ref) {
			return Run
		}
	}
	return Ignore
}

func isDefaultBranch(ref string) bool {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	return ref == "main" || ref == "master"
}
