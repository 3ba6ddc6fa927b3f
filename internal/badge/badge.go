// Package badge renders the public sponsor artifacts: a shields-style SVG
// counter and the SPONSORS.md page.
package badge

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sakif/dipy-services/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// profileLimit caps the avatars shown in the profile README snippet.
const profileLimit = 5

// Renderer renders sponsor artifacts linking back to one sponsor page.
type Renderer struct {
	sponsorURL string
	tmpl       *template.Template
}

// NewRenderer parses the embedded templates. sponsorURL is where the
// "Sponsor DIPY" links point.
func NewRenderer(sponsorURL string) (*Renderer, error) {
	tmpl, err := template.New("badge").
		Funcs(template.FuncMap{"planTitle": planTitle}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("badge: parsing templates: %w", err)
	}
	return &Renderer{sponsorURL: sponsorURL, tmpl: tmpl}, nil
}

// SVG renders the badge showing count sponsors.
func (r *Renderer) SVG(count int) (string, error) {
	return r.render("badge.svg.tmpl", struct{ Count int }{count})
}

// Markdown renders SPONSORS.md. now is printed in UTC as the update time.
func (r *Renderer) Markdown(sponsors []model.Sponsor, now time.Time) (string, error) {
	individual, _ := model.LookupPlan(model.PlanIndividual)
	team, _ := model.LookupPlan(model.PlanTeam)

	return r.render("sponsors.md.tmpl", map[string]any{
		"Sponsors":        sponsors,
		"IndividualPrice": wholeDollars(individual.AmountCents),
		"TeamPrice":       wholeDollars(team.AmountCents),
		"SponsorURL":      r.sponsorURL,
		"Updated":         now.UTC(),
	})
}

// ProfileSection renders the short sponsor block for a profile README: the
// most recent sponsors as avatars. It is empty when there are no sponsors.
func (r *Renderer) ProfileSection(sponsors []model.Sponsor) (string, error) {
	if len(sponsors) > profileLimit {
		sponsors = sponsors[:profileLimit]
	}
	return r.render("profile.md.tmpl", map[string]any{
		"Sponsors":   sponsors,
		"SponsorURL": r.sponsorURL,
	})
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("badge: rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// planTitle turns "individual" into "Individual".
func planTitle(p model.PlanType) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func wholeDollars(cents int64) string {
	if cents%100 == 0 {
		return fmt.Sprint(cents / 100)
	}
	return model.FormatCents(cents)
}
