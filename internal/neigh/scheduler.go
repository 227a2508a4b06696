package neigh

import (
	"container/heap"
	"time"
)

type timerKind uint8

const (
	// timerProbe fires when a probe times out.
	timerProbe timerKind = iota
	// timerAge fires when a REACHABLE entry becomes STALE.
	timerAge
	// timerSweep fires when a STALE entry has not been used for a while.
	timerSweep
)

func (m timerKind) String() string {
	switch m {
	case timerProbe:
		return "probe"
	case timerAge:
		return "age"
	case timerSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// pendingTimer refers to an entry by key and generation, never by pointer,
// so firing for a removed or re-armed entry is detected and ignored.
type pendingTimer struct {
	At         time.Time
	Key        Key
	Generation uint64
	Kind       timerKind

	seq uint64
}

type timerHeap []pendingTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(pendingTimer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler orders timers by deadline.
//
// It is not safe for concurrent use. Timers are never cancelled explicitly,
// superseded ones are discarded by the generation check when they fire.
type Scheduler struct {
	timers timerHeap
	seq    uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func (m *Scheduler) schedule(t pendingTimer) {
	m.seq++
	t.seq = m.seq
	heap.Push(&m.timers, t)
}

// Next returns the earliest deadline.
func (m *Scheduler) Next() (time.Time, bool) {
	if len(m.timers) == 0 {
		return time.Time{}, false
	}

	return m.timers[0].At, true
}

// popDue removes and returns the earliest timer if it is due at now.
func (m *Scheduler) popDue(now time.Time) (pendingTimer, bool) {
	if len(m.timers) == 0 || m.timers[0].At.After(now) {
		return pendingTimer{}, false
	}

	return heap.Pop(&m.timers).(pendingTimer), true
}

// Len returns the number of armed timers, including superseded ones.
func (m *Scheduler) Len() int {
	return len(m.timers)
}
