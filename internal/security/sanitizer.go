package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxTitleLength = 200
	maxIconLength  = 2048
)

// MetadataSanitizer cleans tab metadata before it reaches the approval UI.
// Page titles and icons are attacker controlled.
type MetadataSanitizer struct {
	policy *bluemonday.Policy
}

// NewMetadataSanitizer builds a sanitizer that strips all markup
func NewMetadataSanitizer() *MetadataSanitizer {
	return &MetadataSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize strips markup from text, collapses whitespace and caps its length
func (s *MetadataSanitizer) Sanitize(text string) string {
	clean := html.UnescapeString(s.policy.Sanitize(text))
	clean = strings.Join(strings.Fields(clean), " ")
	if r := []rune(clean); len(r) > maxTitleLength {
		clean = string(r[:maxTitleLength])
	}
	return clean
}

// SanitizeIconURL keeps https icons and inline image data; anything else is dropped
func (s *MetadataSanitizer) SanitizeIconURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIconLength {
		return ""
	}
	if strings.HasPrefix(raw, "data:image/") && !strings.HasPrefix(raw, "data:image/svg") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}
