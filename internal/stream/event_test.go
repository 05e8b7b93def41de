package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"empty", "", 10, ""},
		{"shorter", "abc", 10, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"longer", "abcdef", 5, "abcde" + TruncatedSuffix},
		{"multibyte kept whole", "äöüß€", 3, "äöü" + TruncatedSuffix},
		{"zero limit", "abc", 0, TruncatedSuffix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestTruncate_IdentityForShortStrings(t *testing.T) {
	for _, s := range []string{"x", "Run ID: a1b2c3d4", strings.Repeat("é", RenderLimit)} {
		assert.Equal(t, s, Truncate(s, RenderLimit))
		assert.Equal(t, Truncate(s, RenderLimit), Truncate(Truncate(s, RenderLimit), RenderLimit))
	}
}

func TestEvent_Text(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: KindAssistant, Message: "hi"}, "hi"},
		{Event{Kind: KindToolUse, Name: "Read"}, "[tool] Read"},
		{Event{Kind: KindToolUse, Name: "Read", Summary: `{"p":1}`}, `[tool] Read: {"p":1}`},
		{Event{Kind: KindToolResult, OK: true, Summary: "fine"}, "[tool result ok] fine"},
		{Event{Kind: KindToolResult, Summary: "bad"}, "[tool result error] bad"},
		{Event{Kind: KindResult, Message: "Run ID: abcdef12"}, "Run ID: abcdef12"},
		{Event{Kind: KindError, Message: "boom"}, "error: boom"},
		{Event{Kind: KindRaw, Message: "line"}, "line"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Text())
	}
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, Event{Kind: KindResult}.Terminal())
	assert.True(t, Event{Kind: KindError}.Terminal())
	assert.False(t, Event{Kind: KindRaw}.Terminal())
	assert.False(t, Event{Kind: KindAssistant}.Terminal())
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, CostUSD: 0.5}.Add(Usage{InputTokens: 3, OutputTokens: 4, CostUSD: 0.25})
	assert.Equal(t, Usage{InputTokens: 4, OutputTokens: 6, CostUSD: 0.75}, u)
	assert.True(t, Usage{}.IsZero())
	assert.False(t, u.IsZero())
}
