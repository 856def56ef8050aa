package models

import "time"

// HeaderOverride sets or removes one outgoing request header
type HeaderOverride struct {
	Value  string `json:"value,omitempty"`
	Remove bool   `json:"remove,omitempty"`
}

// BrowsingContext is an isolated cookie/cache/storage scope
type BrowsingContext struct {
	ID                string                    `json:"id"`
	Services          []ServiceID               `json:"services"`
	UserAgent         string                    `json:"userAgent,omitempty"`
	HeaderOverrides   map[string]HeaderOverride `json:"headerOverrides,omitempty"`
	CreatedAt         time.Time                 `json:"createdAt"`
	IdentityAppliedAt *time.Time                `json:"identityAppliedAt,omitempty"`
	ProfileDir        string                    `json:"-"` // on-disk profile (internal only)
}

// Identity is the client identity installed on a context
type Identity struct {
	Name            string                    `json:"name"`
	UserAgent       string                    `json:"userAgent"`
	Platform        string                    `json:"platform,omitempty"`
	Mobile          bool                      `json:"mobile,omitempty"`
	AcceptLanguage  string                    `json:"acceptLanguage,omitempty"`
	HeaderOverrides map[string]HeaderOverride `json:"headerOverrides,omitempty"`
}
