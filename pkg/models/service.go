package models

import "strings"

// ServiceID identifies an embedded AI chat service
type ServiceID string

const (
	ServiceChatGPT    ServiceID = "chatgpt"
	ServiceGemini     ServiceID = "gemini"
	ServiceClaude     ServiceID = "claude"
	ServicePerplexity ServiceID = "perplexity"
)

// AllServices lists the supported services in quick-switch order
var AllServices = []ServiceID{
	ServiceChatGPT,
	ServiceGemini,
	ServiceClaude,
	ServicePerplexity,
}

// ParseService validates a loosely-typed service name
func ParseService(name string) (ServiceID, error) {
	id := ServiceID(strings.ToLower(strings.TrimSpace(name)))
	for _, s := range AllServices {
		if s == id {
			return id, nil
		}
	}
	return "", &ConfigurationError{Service: name, Reason: "unknown service"}
}

func (s ServiceID) String() string {
	return string(s)
}
