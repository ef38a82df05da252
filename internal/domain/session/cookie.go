// Package session contains the domain model of a portal session: the rotating
// cookie jar and the per-student credential that owns it.
// There are no external dependencies here.
package session

import (
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COOKIE
// ══════════════════════════════════════════════════════════════════════════════

// Cookie is a single named session cookie as exchanged with the portal.
type Cookie struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsExpired reports whether the cookie carries an expiry before now.
// Cookies without expiry never expire on their own.
func (c Cookie) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// COOKIE JAR
// ══════════════════════════════════════════════════════════════════════════════

// CookieJar maps cookie name to cookie. Values are never empty.
//
// A jar is a local per-invocation value. Writers merge jars by name, so a
// cookie rotated by a concurrent invocation is never clobbered by one that
// did not observe it.
type CookieJar map[string]Cookie

// NewCookieJar builds a jar from name/value pairs, dropping empty values.
func NewCookieJar(values map[string]string) CookieJar {
	jar := make(CookieJar, len(values))
	for name, value := range values {
		jar.Set(Cookie{Name: name, Value: value})
	}
	return jar
}

// Set stores c under its name. Empty names or values are ignored.
func (j CookieJar) Set(c Cookie) {
	if c.Name == "" || c.Value == "" {
		return
	}
	j[c.Name] = c
}

// Value returns the value of the named cookie.
func (j CookieJar) Value(name string) (string, bool) {
	c, ok := j[name]
	if !ok {
		return "", false
	}
	return c.Value, true
}

// Clone returns an independent copy of the jar.
func (j CookieJar) Clone() CookieJar {
	out := make(CookieJar, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// Merge returns a new jar holding every entry of j, with entries from updates
// replacing same-named ones. Entries absent from updates are kept.
func (j CookieJar) Merge(updates CookieJar) CookieJar {
	out := j.Clone()
	for _, c := range updates {
		out.Set(c)
	}
	return out
}

// Changed returns the subset of j whose value differs from the value in sent,
// including cookies sent did not have.
func (j CookieJar) Changed(sent CookieJar) CookieJar {
	out := make(CookieJar)
	for name, c := range j {
		prev, ok := sent[name]
		if ok && prev.Value == c.Value {
			continue
		}
		out[name] = c
	}
	return out
}

// Names returns cookie names in sorted order.
func (j CookieJar) Names() []string {
	names := make([]string, 0, len(j))
	for name := range j {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Header renders the jar as a single Cookie request header value. Cookies
// expired at now are left out; the jar itself keeps them.
func (j CookieJar) Header(now time.Time) string {
	parts := make([]string, 0, len(j))
	for _, name := range j.Names() {
		c := j[name]
		if c.IsExpired(now) {
			continue
		}
		parts = append(parts, name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Len returns the number of cookies in the jar.
func (j CookieJar) Len() int {
	return len(j)
}
