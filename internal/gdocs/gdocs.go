// Package gdocs fetches the plain-text export of a user's linked Google
// document and cuts out the task verification section the reward queue
// grades against. Fetching is best-effort: callers composing prompts get a
// placeholder string instead of an error.
package gdocs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/postfiatorg/pftnoded/internal/logging"
)

// Markers users place around the section the reward queue may read.
const (
	VerificationSectionStart = "TASK VERIFICATION SECTION START"
	VerificationSectionEnd   = "TASK VERIFICATION SECTION END"
)

// Placeholders substituted into prompts when the document cannot serve.
const (
	UnavailablePlaceholder = "Google Document unavailable"
	NoSectionPlaceholder   = "No verification section found"
)

// ErrBadLink is returned for links that are neither a Google document nor a
// fetchable URL.
var ErrBadLink = errors.New("gdocs: not a document link")

var docIDPattern = regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`)

// ExportURL resolves a share link to its plain-text export form. Non-Google
// URLs pass through untouched so self-hosted documents keep working.
func ExportURL(link string) (string, error) {
	if m := docIDPattern.FindStringSubmatch(link); m != nil {
		return "https://docs.google.com/document/d/" + m[1] + "/export?format=txt", nil
	}
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadLink, link)
	}
	return link, nil
}

// ExtractVerificationSection returns the text between the section markers.
func ExtractVerificationSection(text string) (string, bool) {
	start := strings.Index(text, VerificationSectionStart)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(VerificationSectionStart):]
	end := strings.Index(rest, VerificationSectionEnd)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// Fetcher retrieves document text over HTTP.
type Fetcher struct {
	client  *http.Client
	logger  logging.Logger
	maxBody int64
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithLogger sets the fetcher logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithMaxBody caps how many bytes of a document are read.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// NewFetcher returns a fetcher with a 15 s request timeout and a 1 MiB
// body cap.
func NewFetcher(options ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logging.NopLogger{},
		maxBody: 1 << 20,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// DocumentText fetches the document's plain-text export.
func (f *Fetcher) DocumentText(ctx context.Context, link string) (string, error) {
	target, err := ExportURL(link)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("gdocs: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gdocs: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gdocs: fetch %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("gdocs: read body: %w", err)
	}
	return string(body), nil
}

// FetchVerificationText returns the verification section of the linked
// document, or a placeholder when the document is unreachable or carries no
// section. It never fails; reward grading degrades instead.
func (f *Fetcher) FetchVerificationText(ctx context.Context, link string) string {
	if strings.TrimSpace(link) == "" {
		return UnavailablePlaceholder
	}
	text, err := f.DocumentText(ctx, link)
	if err != nil {
		f.logger.Warn("verification document fetch failed: %v", err)
		return UnavailablePlaceholder
	}
	section, ok := ExtractVerificationSection(text)
	if !ok {
		return NoSectionPlaceholder
	}
	return section
}
