// Package handler contains the HTTP handlers of the services server.
//
// Handlers parse requests, call the service layer and write responses. They
// hold no business rules of their own.
package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageNames are the full pages; each is parsed together with base.html,
// which pulls in the page's "content" block.
var pageNames = []string{"certificates", "sponsors", "thank_you"}

// Pages holds the parsed HTML templates. Parsing happens once at startup.
type Pages struct {
	pages     map[string]*template.Template
	fragments *template.Template
	logger    *slog.Logger
}

func NewPages(logger *slog.Logger) (*Pages, error) {
	p := &Pages{pages: make(map[string]*template.Template), logger: logger}

	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing page %s: %w", name, err)
		}
		p.pages[name] = tmpl
	}

	fragments, err := template.ParseFS(templateFS, "templates/results.html")
	if err != nil {
		return nil, fmt.Errorf("handler: parsing fragments: %w", err)
	}
	p.fragments = fragments

	return p, nil
}

// page renders a full page. data must carry a Title.
func (p *Pages) page(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := p.pages[name]
	if !ok {
		p.logger.Error("unknown page", slog.String("page", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.write(w, status, tmpl, "base.html", data)
}

// fragment renders a partial used as an htmx swap target.
func (p *Pages) fragment(w http.ResponseWriter, status int, name string, data any) {
	p.write(w, status, p.fragments, name, data)
}

// write renders into a buffer first so a template error still yields a
// clean 500 instead of half a page.
func (p *Pages) write(w http.ResponseWriter, status int, tmpl *template.Template, name string, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		p.logger.Error("template rendering failed",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, status, buf.String())
}
