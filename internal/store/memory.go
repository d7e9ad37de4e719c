package store

import (
	"context"
	"sort"
	"sync"

	"github.com/astrohq/astrochat-go/internal/chat"
	"github.com/astrohq/astrochat-go/internal/wire"
)

// MemoryStore keeps the event log in process memory. Same contract as
// the Redis store, minus durability across restarts.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	events    []chat.Event
	monitored map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{monitored: make(map[string]bool)}
}

// Append records an event, assigning the next ID.
func (s *MemoryStore) Append(_ context.Context, ev chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

// History returns up to limit events for the channel older than
// beforeID, oldest-first.
func (s *MemoryStore) History(_ context.Context, channel string, beforeID int64, limit int) ([]chat.Event, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []chat.Event
	for _, ev := range s.events {
		if ev.Channel != channel {
			continue
		}
		if beforeID > 0 && ev.ID >= beforeID {
			continue
		}
		matched = append(matched, ev)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// UnreadCounts counts message-kind events newer than each channel's
// timestamp.
func (s *MemoryStore) UnreadCounts(_ context.Context, since map[string]float64) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(since))
	for ch := range since {
		counts[ch] = 0
	}
	for _, ev := range s.events {
		ts, ok := since[ev.Channel]
		if !ok || ev.Kind != wire.KindMessage {
			continue
		}
		if ev.Timestamp > ts {
			counts[ev.Channel]++
		}
	}
	return counts, nil
}

// AddMonitored records a channel in the durable monitored set.
func (s *MemoryStore) AddMonitored(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored[channel] = true
	return nil
}

// Monitored returns the monitored channel set, sorted.
func (s *MemoryStore) Monitored(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.monitored))
	for ch := range s.monitored {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}
