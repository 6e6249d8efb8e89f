// Package conversation is the reader side of one engagement's message log: a
// de-duplicated, ordered timeline fed by the history and the fan-out channel.
//
// Delivery order on the channel is not creation order, and the same event
// may arrive more than once (a replay after a drop overlaps what was already
// pushed). Everything therefore goes through Timeline.Merge, which keys on
// message id and keeps the list sorted by (createdAt, id).
package conversation

import (
	"sort"
	"sync"

	"handyhub/internal/domain"
)

type Timeline struct {
	mu   sync.RWMutex
	seen map[string]struct{}
	msgs []domain.Message
}

func NewTimeline(ms ...domain.Message) *Timeline {
	t := &Timeline{seen: make(map[string]struct{})}
	t.Merge(ms...)
	return t
}

// Merge adds the messages not seen before and returns them in timeline order.
func (t *Timeline) Merge(ms ...domain.Message) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []domain.Message
	for _, m := range ms {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		added = append(added, m)
	}
	if len(added) == 0 {
		return nil
	}
	domain.SortMessages(added)

	// Fast path: live messages usually land at the tail.
	if n := len(t.msgs); n == 0 || t.msgs[n-1].Before(added[0]) {
		t.msgs = append(t.msgs, added...)
		return added
	}
	t.msgs = append(t.msgs, added...)
	sort.SliceStable(t.msgs, func(i, j int) bool { return t.msgs[i].Before(t.msgs[j]) })
	return added
}

// Messages returns a copy of the ordered timeline.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
