// Package noise classifies third-party traffic (analytics, tracking, ads)
// that a capture usually does not want baked into an offline snapshot.
package noise

import "strings"

// patternsByType groups known noise domain patterns by category. A snapshot
// of an average commercial page pulls in most of these; none of them are
// needed for the page to render offline.
var patternsByType = map[string][]string{
	"analytics": {
		"google-analytics.com", "googletagmanager.com", "analytics.google.com",
		"hotjar.com", "hotjar.io", "mixpanel.com", "segment.io", "segment.com",
		"amplitude.com", "fullstory.com", "cloudflareinsights.com",
		"clarity.ms", "bat.bing.com",
	},
	"tracking": {
		"facebook.net", "facebook.com", "doubleclick.net",
	},
	"ads": {
		"googlesyndication.com", "googleadservices.com",
	},
	"monitoring": {
		"sentry.io", "newrelic.com", "datadoghq.com",
	},
	"marketing": {
		"hubspot.com", "hs-scripts.com", "hsforms.com",
	},
	"support": {
		"intercom.io", "zendesk.com", "crisp.chat",
	},
}

// Classify returns the noise category for a hostname, or "" when the host
// is not a known noise source.
func Classify(host string) string {
	h := strings.ToLower(host)
	for category, patterns := range patternsByType {
		for _, p := range patterns {
			if h == p || strings.HasSuffix(h, "."+p) {
				return category
			}
		}
	}
	return ""
}

// IsNoise reports whether the host matches any known noise pattern.
func IsNoise(host string) bool {
	return Classify(host) != ""
}
