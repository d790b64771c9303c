// timer/timer.go
package timer

import (
	"container/heap"
	"time"
)

// Group tags timers so a whole phase's pending work can be cancelled at once.
type Group string

type task struct {
	id    int64
	group Group
	due   time.Time
	fn    func()
	index int
}

// dueHeap orders tasks by due time, then by scheduling order.
type dueHeap []*task

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dueHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *dueHeap) Pop() interface{} {
	old := *h
	t := old[len(old)-1]
	old[len(old)-1] = nil
	t.index = -1
	*h = old[:len(old)-1]
	return t
}

// Scheduler runs callbacks against a caller-supplied clock. Nothing fires
// until Poll; the owner serializes every call.
type Scheduler struct {
	pending dueHeap
	seq     int64
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// After schedules fn at now+delay and returns an id for Cancel.
func (s *Scheduler) After(now time.Time, delay time.Duration, group Group, fn func()) int64 {
	s.seq++
	heap.Push(&s.pending, &task{id: s.seq, group: group, due: now.Add(delay), fn: fn})
	return s.seq
}

func (s *Scheduler) Cancel(id int64) bool {
	for i, t := range s.pending {
		if t.id == id {
			heap.Remove(&s.pending, i)
			return true
		}
	}
	return false
}

// CancelGroup drops every pending timer in group and returns the count.
func (s *Scheduler) CancelGroup(group Group) int {
	kept := s.pending[:0]
	for _, t := range s.pending {
		if t.group != group {
			kept = append(kept, t)
		}
	}
	removed := len(s.pending) - len(kept)
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
	for i, t := range s.pending {
		t.index = i
	}
	heap.Init(&s.pending)
	return removed
}

func (s *Scheduler) Reset() {
	s.pending = nil
}

func (s *Scheduler) Pending() int { return len(s.pending) }

// Poll runs every task due at or before now, earliest first. A callback may
// schedule more work; anything it schedules at or before now runs in the
// same poll.
func (s *Scheduler) Poll(now time.Time) int {
	fired := 0
	for len(s.pending) > 0 && !s.pending[0].due.After(now) {
		t := heap.Pop(&s.pending).(*task)
		fired++
		t.fn()
	}
	return fired
}
