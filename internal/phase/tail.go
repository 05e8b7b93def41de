package phase

import "strings"

// tailBuffer keeps the last limit non-empty lines it was given
type tailBuffer struct {
	limit int
	buf   []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) add(text string) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		t.buf = append(t.buf, line)
	}
	// Compact once the buffer holds twice what we keep
	if len(t.buf) > 2*t.limit {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.limit:]...)
	}
}

func (t *tailBuffer) lines() []string {
	start := 0
	if len(t.buf) > t.limit {
		start = len(t.buf) - t.limit
	}
	return append([]string(nil), t.buf[start:]...)
}
