package console

import (
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// LockedWriter serializes writes so log lines and rendered events from
// different goroutines never interleave mid-line.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Fd exposes the descriptor of the wrapped writer, if any, so TTY
// detection still works through the lock.
func (l *LockedWriter) Fd() uintptr {
	if f, ok := l.w.(interface{ Fd() uintptr }); ok {
		return f.Fd()
	}
	return ^uintptr(0)
}

// IsTerminal reports whether w is attached to a terminal
func IsTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if file, ok := w.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	if fder, ok := w.(interface{ Fd() uintptr }); ok {
		fd := fder.Fd()
		if fd == ^uintptr(0) {
			return false
		}
		return term.IsTerminal(int(fd))
	}
	return false
}

// ShouldStyle reports whether ANSI styling should be used on w.
// NO_COLOR, TERM=dumb and CLICOLOR=0 all disable it.
func ShouldStyle(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if strings.EqualFold(os.Getenv("CLICOLOR"), "0") {
		return false
	}
	return IsTerminal(w)
}
