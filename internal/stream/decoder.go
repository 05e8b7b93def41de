package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Decoder turns CLI output lines into events. The only state carried from
// one line to the next is whether a terminal event has been emitted.
type Decoder struct {
	terminal bool
	sawJSON  bool
}

// NewDecoder returns a decoder for one child stream
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Terminal reports whether a result or error event has been emitted
func (d *Decoder) Terminal() bool { return d.terminal }

// SawJSON reports whether any line decoded as a JSON object
func (d *Decoder) SawJSON() bool { return d.sawJSON }

// content block inside an assistant or user message
type block struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error"`
}

type message struct {
	Content []block `json:"content"`
}

type usageJSON struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Decode converts a single line into zero or more events. Blank lines
// yield nothing; anything that is not a JSON object yields one raw event.
func (d *Decoder) Decode(line string) []Event {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil || obj == nil {
		return []Event{raw(line)}
	}
	d.sawJSON = true

	typ := stringField(obj["type"])
	switch {
	case typ == "assistant":
		return decodeAssistant(obj, line)
	case typ == "user":
		return decodeUser(obj, line)
	case typ == "tool_use":
		return []Event{{
			Kind:    KindToolUse,
			Name:    stringField(obj["name"]),
			Summary: Truncate(flatten(obj["input"]), SummaryLimit),
		}}
	case typ == "tool_result":
		return []Event{toolResult(obj["content"], boolField(obj["is_error"]))}
	case typ == "result":
		return d.terminate(decodeResult(obj), line)
	case typ == "error", typ == "" && len(obj["error"]) > 0:
		return d.terminate(decodeError(obj), line)
	default:
		return []Event{raw(line)}
	}
}

// terminate emits ev unless a terminal event was already emitted, in which
// case the line degrades to raw so a stream never has two terminal events.
func (d *Decoder) terminate(ev Event, line string) []Event {
	if d.terminal {
		return []Event{raw(line)}
	}
	d.terminal = true
	return []Event{ev}
}

func raw(line string) Event {
	return Event{Kind: KindRaw, Message: line}
}

func decodeAssistant(obj map[string]json.RawMessage, line string) []Event {
	msgRaw := obj["message"]
	// Some CLIs send the assistant text as a bare string
	if s, ok := asString(msgRaw); ok {
		if s == "" {
			return []Event{raw(line)}
		}
		return []Event{{Kind: KindAssistant, Message: s}}
	}

	var msg message
	if err := json.Unmarshal(msgRaw, &msg); err != nil {
		return []Event{raw(line)}
	}

	var text strings.Builder
	var tools []Event
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			tools = append(tools, Event{
				Kind:    KindToolUse,
				Name:    b.Name,
				Summary: Truncate(flatten(b.Input), SummaryLimit),
			})
		}
	}

	var events []Event
	if text.Len() > 0 {
		events = append(events, Event{Kind: KindAssistant, Message: text.String()})
	}
	events = append(events, tools...)
	if len(events) == 0 {
		return []Event{raw(line)}
	}
	return events
}

// decodeUser emits the tool results of a user message; anything else in it
// is passed through raw.
func decodeUser(obj map[string]json.RawMessage, line string) []Event {
	var msg message
	if err := json.Unmarshal(obj["message"], &msg); err != nil {
		return []Event{raw(line)}
	}
	var events []Event
	for _, b := range msg.Content {
		if b.Type == "tool_result" {
			events = append(events, toolResult(b.Content, b.IsError))
		}
	}
	if len(events) == 0 {
		return []Event{raw(line)}
	}
	return events
}

func toolResult(content json.RawMessage, isError bool) Event {
	return Event{
		Kind:    KindToolResult,
		OK:      !isError,
		Summary: Truncate(contentText(content), SummaryLimit),
	}
}

func decodeResult(obj map[string]json.RawMessage) Event {
	ev := Event{
		Kind:    KindResult,
		Message: stringField(obj["result"]),
		OK:      !boolField(obj["is_error"]),
	}

	var u usageJSON
	hasUsage := json.Unmarshal(obj["usage"], &u) == nil && len(obj["usage"]) > 0
	cost, hasCost := floatField(obj["total_cost_usd"])
	if !hasCost {
		cost, hasCost = floatField(obj["cost_usd"])
	}
	if hasUsage || hasCost {
		ev.Usage = &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, CostUSD: cost}
	}
	return ev
}

func decodeError(obj map[string]json.RawMessage) Event {
	msg := ""
	if errRaw := obj["error"]; len(errRaw) > 0 {
		if s, ok := asString(errRaw); ok {
			msg = s
		} else {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(errRaw, &nested) == nil && nested.Message != "" {
				msg = nested.Message
			} else {
				msg = flatten(errRaw)
			}
		}
	}
	if msg == "" {
		msg = stringField(obj["message"])
	}
	if msg == "" {
		msg = "unknown error"
	}
	return Event{Kind: KindError, Message: msg}
}

// contentText renders a tool_result content field, which is either a string
// or an array of {type: "text", text} blocks.
func contentText(raw json.RawMessage) string {
	if s, ok := asString(raw); ok {
		return s
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return flatten(raw)
}

func asString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func stringField(raw json.RawMessage) string {
	s, _ := asString(raw)
	return s
}

func boolField(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func floatField(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// flatten renders an arbitrary JSON value on one line
func flatten(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if s, ok := asString(raw); ok {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
