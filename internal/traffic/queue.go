package traffic

// Priority orders requests within a bucket class. Critical exists for
// human-initiated emergency recovery and intentionally starves lower levels.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low

	numPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	}
	return "UNKNOWN"
}

// ParsePriority maps a priority name to its level, defaulting to Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "CRITICAL":
		return Critical
	case "HIGH":
		return High
	case "LOW":
		return Low
	}
	return Normal
}

// queue is a four-level priority queue, FIFO within each level.
// Not self-locking; the Controller serialises access.
type queue struct {
	levels [numPriorities][]*pendingRequest
}

func (q *queue) push(item *pendingRequest) {
	q.levels[item.req.Priority] = append(q.levels[item.req.Priority], item)
}

// peek returns the oldest item of the highest non-empty level.
func (q *queue) peek() *pendingRequest {
	for p := 0; p < numPriorities; p++ {
		if len(q.levels[p]) > 0 {
			return q.levels[p][0]
		}
	}
	return nil
}

func (q *queue) pop() *pendingRequest {
	for p := 0; p < numPriorities; p++ {
		if len(q.levels[p]) > 0 {
			item := q.levels[p][0]
			q.levels[p] = q.levels[p][1:]
			return item
		}
	}
	return nil
}

func (q *queue) len() int {
	n := 0
	for p := 0; p < numPriorities; p++ {
		n += len(q.levels[p])
	}
	return n
}

// drain removes and returns every queued item, highest priority first.
func (q *queue) drain() []*pendingRequest {
	var out []*pendingRequest
	for p := 0; p < numPriorities; p++ {
		out = append(out, q.levels[p]...)
		q.levels[p] = nil
	}
	return out
}
