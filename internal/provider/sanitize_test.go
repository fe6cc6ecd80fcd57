package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveCacheRetention(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		want     CacheRetention
	}{
		{"canonical anthropic endpoint keeps long", "https://api.anthropic.com", CacheRetentionLong},
		{"canonical openai endpoint keeps long", "https://api.openai.com", CacheRetentionLong},
		{"trailing slash still canonical", "https://api.anthropic.com/", CacheRetentionLong},
		{"proxy downgrades to short", "https://my-proxy.internal", CacheRetentionShort},
		{"empty base url downgrades to short", "", CacheRetentionShort},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveCacheRetention(CacheRetentionLong, tc.baseURL)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveCacheRetention_NonLongPassesThrough(t *testing.T) {
	require.Equal(t, CacheRetentionNone, ResolveCacheRetention(CacheRetentionNone, "https://api.anthropic.com"))
	require.Equal(t, CacheRetentionShort, ResolveCacheRetention(CacheRetentionShort, "https://proxy.example"))
}

func TestNormalizeToolCallID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"already valid", "call_abc123", "call_abc123"},
		{"strips disallowed characters", "call abc/123!", "callabc123"},
		{"empty falls back to call", "", "call"},
		{"all disallowed bytes falls back to call", "!!!???", "call"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeToolCallID(tc.id)
			require.LessOrEqual(t, len(got), 64)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeToolCallID_TruncatesLongIDs(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := NormalizeToolCallID(long)
	require.Len(t, got, 64)
}

func TestSanitizeSurrogates_StripsLoneSurrogateHalf(t *testing.T) {
	// U+D800 is a lone high surrogate; encoding it directly as a rune string
	// produces the UTF-8 replacement character, which SanitizeSurrogates
	// strips rather than leaving in the output.
	withLoneSurrogate := "hello " + string(rune(0xD800)) + " world"
	got := SanitizeSurrogates(withLoneSurrogate)
	require.Equal(t, "hello  world", got)
}

func TestSanitizeSurrogates_LeavesOrdinaryTextUntouched(t *testing.T) {
	s := "no surrogates here, just plain text 123"
	require.Equal(t, s, SanitizeSurrogates(s))
}
