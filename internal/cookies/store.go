package cookies

import (
	"context"
	"strings"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// Store is a per-context cookie jar. Implementations serialize writes per
// (domain, path, name) key; the last write wins.
type Store interface {
	Cookies(ctx context.Context, contextID string) ([]models.Cookie, error)
	SetCookie(ctx context.Context, contextID string, c models.Cookie) error
	Subscribe(contextID string, fn func(models.CookieChange)) (cancel func())
}

// Recorder receives write outcome counts, e.g. for metrics
type Recorder interface {
	CookieWrites(op string, written, failed int)
}

type nopRecorder struct{}

func (nopRecorder) CookieWrites(string, int, int) {}

// InDomains reports whether a cookie domain equals or is a subdomain of any of domains
func InDomains(domain string, domains []string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	if d == "" {
		return false
	}
	for _, candidate := range domains {
		c := strings.TrimPrefix(strings.ToLower(candidate), ".")
		if c == "" {
			continue
		}
		if d == c || strings.HasSuffix(d, "."+c) {
			return true
		}
	}
	return false
}
