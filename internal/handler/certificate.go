package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/dipy-services/internal/certificate"
)

const (
	maxQueryLength = 100
	maxYearLength  = 4
)

// CertificateHandler serves the certificate search pages and PDFs under
// /services/certificates.
type CertificateHandler struct {
	resolver *certificate.Resolver
	pages    *Pages
	baseURL  string
	logger   *slog.Logger
}

func NewCertificateHandler(resolver *certificate.Resolver, pages *Pages, baseURL string, logger *slog.Logger) *CertificateHandler {
	return &CertificateHandler{
		resolver: resolver,
		pages:    pages,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// Healthcheck
//
// HTTP: GET /services/certificates/healthcheck
func (h *CertificateHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from DIPY Certificates Service!"})
}

type indexPage struct {
	Title          string
	SupportedYears []string
}

// Index renders the search form.
//
// HTTP: GET /services/certificates/
func (h *CertificateHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.pages.page(w, http.StatusOK, "certificates", indexPage{
		Title:          "DIPY Certificates",
		SupportedYears: h.resolver.SupportedYears(),
	})
}

type searchResult struct {
	NotFound        bool
	Query           string
	Year            string
	CertificateName string
	ViewURL         string
	DownloadURL     string
	LinkedInURL     string
}

// Search returns the results fragment that htmx swaps into the page.
//
// HTTP: POST /services/certificates/search
// Form: search_query (at most 100 characters), search_year (at most 4)
func (h *CertificateHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.PostFormValue("search_query"))
	year := strings.TrimSpace(r.PostFormValue("search_year"))

	if query == "" || year == "" || len([]rune(query)) > maxQueryLength || len(year) > maxYearLength {
		http.Error(w, "search_query (max 100 characters) and search_year (max 4 characters) are required",
			http.StatusBadRequest)
		return
	}

	h.logger.Info("certificate search", slog.String("query", query), slog.String("year", year))

	path, ok := h.resolver.FindCertificate(query, year, certificate.DefaultThreshold)
	if !ok {
		h.pages.fragment(w, http.StatusOK, "results", searchResult{NotFound: true, Query: query, Year: year})
		return
	}

	name := certificate.Stem(path)
	viewPath := certificatePath("view", year, name)
	h.pages.fragment(w, http.StatusOK, "results", searchResult{
		Query:           query,
		Year:            year,
		CertificateName: name,
		ViewURL:         viewPath,
		DownloadURL:     certificatePath("download", year, name),
		LinkedInURL:     h.resolver.LinkedInURL(name, year, h.baseURL+viewPath),
	})
}

func certificatePath(action, year, name string) string {
	return "/services/certificates/" + action + "/" + url.PathEscape(year) + "/" + url.PathEscape(name) + ".pdf"
}

// View serves a certificate inline.
//
// HTTP: GET /services/certificates/view/{year}/{file}
func (h *CertificateHandler) View(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "inline")
}

// Download serves a certificate as an attachment.
//
// HTTP: GET /services/certificates/download/{year}/{file}
func (h *CertificateHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "attachment")
}

// serve re-validates the name from the link before touching the disk: only
// an exact match under the requested year is served, which also keeps path
// segments like ".." from reaching the filesystem.
func (h *CertificateHandler) serve(w http.ResponseWriter, r *http.Request, disposition string) {
	// chi hands out params still escaped when the request path needed RawPath.
	year, err := url.PathUnescape(chi.URLParam(r, "year"))
	if err != nil {
		certificateNotFound(w)
		return
	}
	file, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		certificateNotFound(w)
		return
	}

	// chi patterns cannot split "{name}.pdf" when the name itself has dots.
	stem, isPDF := strings.CutSuffix(file, ".pdf")
	if !isPDF || stem == "" {
		certificateNotFound(w)
		return
	}

	path, ok := h.resolver.Lookup(stem, year)
	if !ok {
		certificateNotFound(w)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("opening certificate", slog.String("path", path), slog.String("error", err.Error()))
		certificateNotFound(w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("stat certificate", slog.String("path", path), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	filename := filepath.Base(path)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": filename}))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func certificateNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Certificate not found or name mismatch"})
}
