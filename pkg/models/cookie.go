package models

import (
	"strings"
	"time"
)

// Cookie is one record from a context's cookie jar
type Cookie struct {
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Secure    bool      `json:"secure,omitempty"`
	HTTPOnly  bool      `json:"httpOnly,omitempty"`
	Expires   time.Time `json:"expires,omitempty"` // zero for session cookies
	WrittenAt time.Time `json:"writtenAt,omitempty"`
}

// CookieKey identifies a cookie within one context
type CookieKey struct {
	Domain string
	Path   string
	Name   string
}

// Key returns the (domain, path, name) identity of the cookie
func (c Cookie) Key() CookieKey {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return CookieKey{Domain: strings.ToLower(c.Domain), Path: path, Name: c.Name}
}

// IsSession reports whether the cookie has no expiry
func (c Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// Expired reports whether the cookie is no longer valid at t
func (c Cookie) Expired(t time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(t)
}

// HostDomain returns the domain without its leading dot
func (c Cookie) HostDomain() string {
	return strings.TrimPrefix(strings.ToLower(c.Domain), ".")
}

// CookieChange is delivered to subscribers when a context's jar changes
type CookieChange struct {
	ContextID string `json:"contextId"`
	Cookie    Cookie `json:"cookie"`
	Removed   bool   `json:"removed,omitempty"`
}

// SyncResult summarizes a best-effort batch of cookie writes
type SyncResult struct {
	Attempted int     `json:"attempted"`
	Written   int     `json:"written"`
	Failed    int     `json:"failed"`
	Errors    []error `json:"-"`
}

// Add folds another result into r
func (r *SyncResult) Add(other SyncResult) {
	r.Attempted += other.Attempted
	r.Written += other.Written
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// InjectResult summarizes a manual cookie injection
type InjectResult struct {
	Injected int `json:"injectedCount"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
