package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrIDRequired     = errors.New("id is required")
	ErrNotFound       = errors.New("paper not found")
	ErrFileRequired   = errors.New("pdf file is required")
	ErrNotPDF         = errors.New("file is not a PDF")
	ErrStorage        = errors.New("storage error")
	ErrDownloadFailed = errors.New("download failed")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Attempt is one fetch made while resolving a download.
type Attempt struct {
	Stage string
	URL   string
	Err   error
}

// DownloadError aggregates every failed attempt of a download, in order.
type DownloadError struct {
	PaperID  string
	Attempts []Attempt
}

func (e *DownloadError) Error() string {
	return e.render(func(u string) string { return u })
}

// Redacted renders the diagnostic without URL query strings, so presigned credentials stay out of client responses.
func (e *DownloadError) Redacted() string {
	return e.render(stripQuery)
}

func (e *DownloadError) render(show func(string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "download failed for paper %s after %d attempt(s)", e.PaperID, len(e.Attempts))
	for _, a := range e.Attempts {
		msg := "<nil>"
		if a.Err != nil {
			msg = a.Err.Error()
			if a.URL != "" {
				msg = strings.ReplaceAll(msg, a.URL, show(a.URL))
			}
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s", a.Stage, show(a.URL), msg)
	}
	return b.String()
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Is matches ErrDownloadFailed.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

// Unwrap exposes the per-attempt errors to errors.As.
func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
