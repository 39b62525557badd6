package api

import (
	"sync"

	"refurb-bridge/internal/traffic"
)

// dispatchLog is a fixed-size ring of recent controller dispatch outcomes.
type dispatchLog struct {
	mu      sync.Mutex
	entries []traffic.LogEntry
	next    int
	full    bool
}

func newDispatchLog(size int) *dispatchLog {
	if size <= 0 {
		size = 256
	}
	return &dispatchLog{entries: make([]traffic.LogEntry, size)}
}

func (l *dispatchLog) add(e traffic.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// snapshot returns the buffered entries, oldest first.
func (l *dispatchLog) snapshot() []traffic.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]traffic.LogEntry(nil), l.entries[:l.next]...)
	}
	out := make([]traffic.LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
