package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/-]+=*`),

			// Credentials embedded in collector URLs
			regexp.MustCompile(`(?i)(https?://)[^/\s:@"]+:[^/\s@"]+@`),

			// Ingress request signatures
			regexp.MustCompile(`sha(?:1|256)=[0-9a-fA-F]{40,64}`),

			// Email addresses passed as user ids
			regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),

			// Passwords
			regexp.MustCompile(`(?i)password["\s:=]+[^\s",}]+`),

			// Auth tokens
			regexp.MustCompile(`(?i)token["\s:=]+[a-zA-Z0-9._-]{20,}`),

			// Generic secrets
			regexp.MustCompile(`(?i)secret["\s:=]+[^\s",}]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// keep the scheme so redacted URLs stay readable
			if sub := pattern.FindStringSubmatch(match); len(sub) > 1 && sub[1] != "" {
				return sub[1] + redacted + "@"
			}
			return redacted
		})
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers wrote p, not the redacted form.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
