package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePartialJSON(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     string
	}{
		{"empty fragment", "", "{}"},
		{"whitespace only", "   ", "{}"},
		{"already complete object", `{"a":1}`, `{"a":1}`},
		{"unterminated string value", `{"a":"hel`, `{"a":"hel"}`},
		{"unterminated nested object", `{"a":{"b":1`, `{"a":{"b":1}}`},
		{"unterminated array", `{"a":[1,2`, `{"a":[1,2]}`},
		{"dangling key with no value", `{"a":"x","b"`, `{"a":"x"}`},
		{"trailing comma", `{"a":1,`, `{"a":1}`},
		{"bare partial literal", `{"a":tru`, `{}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParsePartialJSON(tc.fragment)
			require.True(t, json.Valid(got), "result must always be valid JSON, got %s", got)
			if tc.want != "" {
				require.JSONEq(t, tc.want, string(got))
			}
		})
	}
}

func TestParsePartialJSON_Deterministic(t *testing.T) {
	fragment := `{"path":"/tmp/x","args":["-r","-`
	first := ParsePartialJSON(fragment)
	second := ParsePartialJSON(fragment)
	require.Equal(t, string(first), string(second))
}

func TestParsePartialJSON_UnrecoverableFallsBackToEmptyObject(t *testing.T) {
	got := ParsePartialJSON("]]] not json at all {{{")
	require.JSONEq(t, "{}", string(got))
}
