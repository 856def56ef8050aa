package browser

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"

	"github.com/shehryarbajwa/ai-in-one/internal/identity"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

func fromCDPCookie(c *network.Cookie) models.Cookie {
	out := models.Cookie{
		Domain:   c.Domain,
		Path:     c.Path,
		Name:     c.Name,
		Value:    c.Value,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		out.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return out
}

func setCookieParams(c models.Cookie) *network.SetCookieParams {
	path := c.Path
	if path == "" {
		path = "/"
	}
	p := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	if !c.Expires.IsZero() {
		expires := cdp.TimeSinceEpoch(c.Expires)
		p = p.WithExpires(&expires)
	}
	return p
}

// diffCookies compares a fresh read against the previous snapshot
func diffCookies(contextID string, previous map[models.CookieKey]models.Cookie, current []models.Cookie) ([]models.CookieChange, map[models.CookieKey]models.Cookie) {
	next := make(map[models.CookieKey]models.Cookie, len(current))
	var changes []models.CookieChange

	for _, c := range current {
		k := c.Key()
		next[k] = c
		old, ok := previous[k]
		if ok && old.Value == c.Value && old.Expires.Equal(c.Expires) && old.Secure == c.Secure && old.HTTPOnly == c.HTTPOnly {
			continue
		}
		changes = append(changes, models.CookieChange{ContextID: contextID, Cookie: c})
	}
	for k, c := range previous {
		if _, ok := next[k]; !ok {
			changes = append(changes, models.CookieChange{ContextID: contextID, Cookie: c, Removed: true})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i].Cookie.Key(), changes[j].Cookie.Key()
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Name < b.Name
	})
	return changes, next
}

func hasSetCookie(headers network.Headers) bool {
	for name := range headers {
		if strings.EqualFold(name, "set-cookie") {
			return true
		}
	}
	return false
}

// extraHeaders are the override values Chrome can add on its own
func extraHeaders(id models.Identity) network.Headers {
	headers := network.Headers{}
	for name, o := range id.HeaderOverrides {
		if !o.Remove {
			headers[name] = o.Value
		}
	}
	return headers
}

// needsInterception reports whether headers must be dropped, which only
// request interception can do
func needsInterception(id models.Identity) bool {
	for _, o := range id.HeaderOverrides {
		if o.Remove {
			return true
		}
	}
	return false
}

func rewriteRequestHeaders(headers network.Headers, overrides map[string]models.HeaderOverride) []*fetch.HeaderEntry {
	h := make(http.Header, len(headers))
	for name, value := range headers {
		h.Set(name, fmt.Sprint(value))
	}

	rewritten := identity.Rewrite(h, overrides)

	names := make([]string, 0, len(rewritten))
	for name := range rewritten {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]*fetch.HeaderEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, &fetch.HeaderEntry{Name: name, Value: rewritten.Get(name)})
	}
	return entries
}

func userAgentMetadata(id models.Identity) *emulation.UserAgentMetadata {
	if !id.Mobile {
		return nil
	}
	return &emulation.UserAgentMetadata{
		Brands:          []*emulation.UserAgentBrandVersion{{Brand: "Safari", Version: "16"}},
		Platform:        id.Platform,
		PlatformVersion: "16.0",
		Model:           "iPad",
		Mobile:          true,
	}
}
