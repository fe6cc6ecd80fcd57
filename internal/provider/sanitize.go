package provider

import (
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// CacheRetention selects how aggressively the pre-flight transform marks
// the tail of a request for provider-side prompt caching (spec §4.2).
type CacheRetention string

const (
	CacheRetentionNone  CacheRetention = "none"
	CacheRetentionShort CacheRetention = "short"
	CacheRetentionLong  CacheRetention = "long"
)

// canonicalBaseURLs lists the provider endpoints long-lived cache markers
// are honored against. A long retention request against any other base
// URL (a proxy, a gateway, a recorded fixture) downgrades to short, since
// only the provider's own edge is known to honor the longer TTL.
var canonicalBaseURLs = map[string]bool{
	"https://api.anthropic.com": true,
	"https://api.openai.com":    true,
}

// ResolveCacheRetention downgrades long to short unless baseURL is a
// canonical provider endpoint (spec §4.2 cache-control retention policy).
func ResolveCacheRetention(requested CacheRetention, baseURL string) CacheRetention {
	if requested != CacheRetentionLong {
		return requested
	}
	if canonicalBaseURLs[strings.TrimRight(baseURL, "/")] {
		return CacheRetentionLong
	}
	return CacheRetentionShort
}

// toolCallIDPattern is the exact shape spec §3 requires of a tool-call id.
var toolCallIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NormalizeToolCallID rewrites id so it satisfies toolCallIDPattern: every
// byte outside the allowed set is dropped, and the result is truncated to
// 64 bytes. An empty result falls back to "call" so every tool-call block
// keeps a non-empty id.
func NormalizeToolCallID(id string) string {
	if toolCallIDPattern.MatchString(id) {
		return id
	}
	var b strings.Builder
	for _, r := range id {
		if r < utf8.RuneSelf && (isAllowedIDByte(byte(r))) {
			b.WriteByte(byte(r))
		}
		if b.Len() >= 64 {
			break
		}
	}
	out := b.String()
	if out == "" {
		return "call"
	}
	return out
}

func isAllowedIDByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	default:
		return false
	}
}

// SanitizeSurrogates strips unpaired UTF-16 surrogate halves from s (spec
// §9 "surrogate-half sanitation"): a streaming decoder can hand back a
// string ending mid-surrogate-pair, which is invalid UTF-8 once encoded
// and would be rejected or mangled by the wire codec. An unpaired half
// reaches a Go string as utf8.RuneError (U+FFFD), so every U+FFFD rune
// is removed. Valid pairs are left untouched.
func SanitizeSurrogates(s string) string {
	hasLone := false
	for _, r := range s {
		if r == utf8.RuneError {
			hasLone = true
			break
		}
	}
	if !hasLone {
		return s
	}

	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == utf8.RuneError {
			continue
		}
		if utf16.IsSurrogate(r) {
			if i+1 < len(runes) {
				if combined := utf16.DecodeRune(r, runes[i+1]); combined != utf8.RuneError {
					out = append(out, combined)
					i++
					continue
				}
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
