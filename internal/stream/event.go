// Package stream decodes the stdout of LLM CLIs into events. A line is
// either one JSON object carrying a "type" discriminator or opaque text.
package stream

import (
	"fmt"
	"unicode/utf8"
)

// Kind discriminates Event
type Kind string

const (
	KindAssistant  Kind = "assistant"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindResult     Kind = "result"
	KindError      Kind = "error"
	KindRaw        Kind = "raw"
)

// Truncation limits
const (
	RenderLimit  = 500 // Live transcript payloads
	SummaryLimit = 200 // Tool input and result summaries
)

// TruncatedSuffix marks a shortened payload
const TruncatedSuffix = "... (truncated)"

// Usage is the token and cost accounting a CLI reports on its result event
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Add returns the sum of u and o
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Event is one decoded unit of CLI output. Which fields are set depends on Kind:
//
//	assistant    Message
//	tool_use     Name, Summary
//	tool_result  OK, Summary
//	result       Message, OK, Usage
//	error        Message
//	raw          Message (the original line)
type Event struct {
	Kind    Kind
	Message string
	Name    string
	Summary string
	OK      bool
	Usage   *Usage
}

// Terminal reports whether e ends a well-formed stream
func (e Event) Terminal() bool {
	return e.Kind == KindResult || e.Kind == KindError
}

// Text is the canonical plain-text form of e, used when a phase's output
// is captured. It is never truncated.
func (e Event) Text() string {
	switch e.Kind {
	case KindToolUse:
		if e.Summary == "" {
			return fmt.Sprintf("[tool] %s", e.Name)
		}
		return fmt.Sprintf("[tool] %s: %s", e.Name, e.Summary)
	case KindToolResult:
		status := "ok"
		if !e.OK {
			status = "error"
		}
		return fmt.Sprintf("[tool result %s] %s", status, e.Summary)
	case KindError:
		return "error: " + e.Message
	default:
		return e.Message
	}
}

// Truncate shortens s to at most n runes followed by TruncatedSuffix.
// Strings of n runes or fewer are returned unchanged.
func Truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + TruncatedSuffix
		}
		i++
	}
	return s
}
