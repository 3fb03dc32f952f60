package crawler

import "strings"

// Per-mode crawl limits. Fixed constants, not runtime-configurable.
var (
	quickLimits = Limits{Notes: 6, CommentsPerNote: 3}
	deepLimits  = Limits{Notes: 12, CommentsPerNote: 6}
)

// BuildLimits returns the crawl limits for a mode. Unknown modes get the
// quick profile.
func BuildLimits(mode Mode) Limits {
	if mode == ModeDeep {
		return deepLimits
	}
	return quickLimits
}

// NormalizePlatforms returns the enabled platforms in fixed order. An empty
// result is valid and means the caller should skip crawling.
func NormalizePlatforms(xiaohongshu, douyin bool) []Platform {
	platforms := make([]Platform, 0, 2)
	if xiaohongshu {
		platforms = append(platforms, PlatformXiaohongshu)
	}
	if douyin {
		platforms = append(platforms, PlatformDouyin)
	}
	return platforms
}

// maxErrorLen caps diagnostic strings stored on job rows and returned to
// callers.
const maxErrorLen = 500

// FailureDetail concatenates a payload's top-level errors with every failed
// platform's message into one bounded diagnostic string. Empty when nothing
// failed.
func FailureDetail(p *ResultPayload) string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, e := range p.Errors {
		if e != "" {
			parts = append(parts, e)
		}
	}
	for _, pr := range p.PlatformResults {
		if !pr.Success && pr.Error != "" {
			parts = append(parts, string(pr.Platform)+": "+pr.Error)
		}
	}
	return Truncate(strings.Join(parts, "; "), maxErrorLen)
}

// Truncate bounds s to at most n runes, never splitting a multi-byte
// character. Crawler errors are frequently Chinese text.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
