package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var schemeRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// CanonicalURL turns arbitrary user input into the normalized, comparable
// form used for equality and storage.
//
// Rules: input is trimmed and must be non-empty; a missing scheme defaults
// to https; the result must parse as an absolute URL with a host. Scheme and
// host are lower-cased, the fragment is dropped, trailing slashes are
// stripped from the path. The function is idempotent:
// CanonicalURL(CanonicalURL(x)) == CanonicalURL(x) for any accepted x.
func CanonicalURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyURL
	}

	if !schemeRE.MatchString(s) {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	path := strings.TrimRight(u.EscapedPath(), "/")

	canonical := scheme + "://" + host + path
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, nil
}

// DisplayURL is the presentation-only form of a canonical URL: a leading
// "www." is removed from the hostname. It is never used for equality.
func DisplayURL(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil || u.Host == "" {
		return canonical
	}
	u.Host = strings.TrimPrefix(u.Host, "www.")
	return u.String()
}
