package models

import "time"

// ViewStatus represents the state of an embedded view
type ViewStatus string

const (
	ViewOpen     ViewStatus = "OPEN"
	ViewReloaded ViewStatus = "RELOADED"
)

// View is the dispatcher's record of an embedded service view
type View struct {
	Service   ServiceID   `json:"service"`
	ContextID string      `json:"contextId"`
	URL       string      `json:"url"`
	UserAgent string      `json:"userAgent,omitempty"`
	Status    ViewStatus  `json:"status"`
	OpenedAt  time.Time   `json:"openedAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	LastSync  *SyncResult `json:"lastSync,omitempty"`
}

// InjectCookiesRequest is the payload for manual cookie injection
type InjectCookiesRequest struct {
	Cookies string `json:"cookies"`
}
