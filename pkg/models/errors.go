package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a login action does not apply to the current state
var ErrInvalidTransition = errors.New("invalid login state transition")

// ConfigurationError reports an unknown or misconfigured service
type ConfigurationError struct {
	Service string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %q", e.Reason, e.Service)
}

// CookieWriteError wraps a failure to write one cookie record
type CookieWriteError struct {
	ContextID string
	Domain    string
	Name      string
	Err       error
}

func (e *CookieWriteError) Error() string {
	return fmt.Sprintf("write cookie %s (%s) to %s: %v", e.Name, e.Domain, e.ContextID, e.Err)
}

func (e *CookieWriteError) Unwrap() error {
	return e.Err
}

// ExternalLaunchError reports that the system browser could not be opened
type ExternalLaunchError struct {
	Service ServiceID
	URL     string
	Err     error
}

func (e *ExternalLaunchError) Error() string {
	return fmt.Sprintf("could not open %s in the default browser: %v", e.URL, e.Err)
}

func (e *ExternalLaunchError) Unwrap() error {
	return e.Err
}
