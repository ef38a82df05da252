package portal

import (
	"net/http"
	"strings"
	"time"

	"github.com/studyhub/schedule-sync/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET-COOKIE PARSING
// ══════════════════════════════════════════════════════════════════════════════

// expiresLayouts are tried for expires= values the standard parser rejected.
var expiresLayouts = []string{
	http.TimeFormat,
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02 Jan 06 15:04:05 MST",
}

// SplitSetCookie splits one Set-Cookie header value that may fold several
// cookies. A comma only separates cookies when the text after it (ignoring
// spaces) is a cookie-name token followed by '='. Commas inside Expires dates
// are followed by a day number or a space and never split.
func SplitSetCookie(header string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' || !startsAssignment(header[i+1:]) {
			continue
		}
		if part := strings.TrimSpace(header[start:i]); part != "" {
			parts = append(parts, part)
		}
		start = i + 1
	}
	if part := strings.TrimSpace(header[start:]); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// startsAssignment reports whether s begins with optional whitespace, a token
// and '='.
func startsAssignment(s string) bool {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	tokenStart := i
	for i < len(s) && isTokenChar(s[i]) {
		i++
	}
	return i > tokenStart && i < len(s) && s[i] == '='
}

// isTokenChar follows the RFC 7230 tchar set.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

// ParseSetCookies extracts cookies from every Set-Cookie header value.
// Definitions that do not parse or carry an empty value are dropped, so the
// result can be merged straight into a jar.
func ParseSetCookies(headers []string, now time.Time) []session.Cookie {
	var out []session.Cookie
	for _, header := range headers {
		for _, def := range SplitSetCookie(header) {
			if c, ok := parseCookieDefinition(def, now); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func parseCookieDefinition(def string, now time.Time) (session.Cookie, bool) {
	hc, err := http.ParseSetCookie(def)
	if err != nil || hc.Name == "" || hc.Value == "" {
		return session.Cookie{}, false
	}

	c := session.Cookie{Name: hc.Name, Value: hc.Value, UpdatedAt: now}
	if exp, ok := cookieExpiry(hc, now); ok {
		c.ExpiresAt = &exp
	}
	return c, true
}

// cookieExpiry prefers the expires= date over max-age=.
func cookieExpiry(hc *http.Cookie, now time.Time) (time.Time, bool) {
	if !hc.Expires.IsZero() {
		return hc.Expires.UTC(), true
	}
	if hc.RawExpires != "" {
		for _, layout := range expiresLayouts {
			if t, err := time.Parse(layout, hc.RawExpires); err == nil {
				return t.UTC(), true
			}
		}
	}
	switch {
	case hc.MaxAge > 0:
		return now.Add(time.Duration(hc.MaxAge) * time.Second).UTC(), true
	case hc.MaxAge < 0:
		// max-age=0 or negative: expire immediately.
		return now.UTC(), true
	}
	return time.Time{}, false
}
