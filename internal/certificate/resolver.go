// Package certificate resolves a typed name to a certificate PDF on disk.
//
// Certificates live under <root>/<year>/**/*.pdf and the file's base name is
// the person's name. Every lookup walks the year directory again; there is no
// index and no cache, so a new file is visible on the next request.
package certificate

import (
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultThreshold is the minimum score for a user-facing search.
	DefaultThreshold = 70
	// ExactThreshold is used when re-validating a name taken from a
	// view or download link.
	ExactThreshold = 95
)

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// Config is the resolver's slice of the application configuration.
type Config struct {
	Root           string
	SupportedYears []string
	// OrganizationID and IssueMonth go into LinkedIn add-to-profile links.
	OrganizationID string
	IssueMonth     int
}

// Resolver searches the certificate tree.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	return &Resolver{cfg: cfg, logger: logger}
}

// SupportedYears lists the years offered in the search form.
func (r *Resolver) SupportedYears() []string {
	return r.cfg.SupportedYears
}

// FindCertificate returns the PDF under <root>/<year> whose base name best
// matches name, provided its score reaches minScore.
//
// Matching is case-insensitive and uses PartialRatio. Only a strictly higher
// score replaces the current best, so on a tie the file met first in the walk
// wins. filepath.WalkDir visits entries in lexical order, which makes that
// choice deterministic for a given tree.
func (r *Resolver) FindCertificate(name, year string, minScore float64) (string, bool) {
	if name == "" || year == "" {
		return "", false
	}
	if !yearPattern.MatchString(year) {
		r.logger.Warn("invalid certificate year format", "year", year)
		return "", false
	}

	yearDir := filepath.Join(r.cfg.Root, year)
	if info, err := os.Stat(yearDir); err != nil || !info.IsDir() {
		r.logger.Warn("certificate directory for year not found", "year", year, "dir", yearDir)
		return "", false
	}

	query := strings.ToLower(name)
	bestPath := ""
	bestScore := -1.0

	err := filepath.WalkDir(yearDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable subdirectory is skipped, not fatal.
			r.logger.Warn("skipping unreadable certificate path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".pdf") || !isFile(path, d) {
			return nil
		}

		stem := strings.TrimSuffix(d.Name(), ".pdf")
		if score := PartialRatio(query, strings.ToLower(stem)); score > bestScore {
			bestScore = score
			bestPath = path
		}
		return nil
	})
	if err != nil {
		r.logger.Error("walking certificate directory", "dir", yearDir, "error", err)
		return "", false
	}

	if bestPath == "" || bestScore < minScore {
		r.logger.Info("no certificate above threshold",
			"query", name, "year", year, "threshold", minScore, "best_score", bestScore)
		return "", false
	}

	r.logger.Info("certificate match",
		"query", name, "year", year, "file", filepath.Base(bestPath), "score", bestScore)
	return bestPath, true
}

// Lookup re-validates a name coming back from a view or download link: the
// search runs at ExactThreshold and the file found must carry exactly the
// requested name, otherwise the link is treated as not found.
func (r *Resolver) Lookup(stem, year string) (string, bool) {
	path, ok := r.FindCertificate(stem, year, ExactThreshold)
	if !ok || Stem(path) != stem {
		return "", false
	}
	return path, true
}

// Stem returns the base name of a certificate path without ".pdf".
func Stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".pdf")
}

const linkedInAddURL = "https://www.linkedin.com/profile/add?startTask=CERTIFICATION_NAME"

// LinkedInURL builds the add-to-profile link for a found certificate.
// certURL is the public view link of the PDF.
func (r *Resolver) LinkedInURL(name, year, certURL string) string {
	params := []struct{ key, value string }{
		{"name", name},
		{"organizationId", r.cfg.OrganizationID},
		{"issueYear", year},
		{"issueMonth", strconv.Itoa(r.cfg.IssueMonth)},
		{"certUrl", certURL},
	}

	// url.Values.Encode sorts keys; LinkedIn's documented order is kept instead.
	var b strings.Builder
	b.WriteString(linkedInAddURL)
	for _, p := range params {
		b.WriteByte('&')
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// isFile follows symlinks so a linked PDF counts as a file.
func isFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
