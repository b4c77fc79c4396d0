package store

import (
	"context"
	"sort"
	"sync"

	"tinyhome/api/funnel"
)

// MemoryEventStore keeps events in process. It backs EVENT_STORE=memory for
// local development and is the engine's test double.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []funnel.Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Insert(_ context.Context, event funnel.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryEventStore) RangeScan(_ context.Context, q funnel.RangeQuery) ([]funnel.Event, error) {
	steps := make(map[string]struct{}, len(q.Steps))
	for _, st := range q.Steps {
		steps[st] = struct{}{}
	}
	return s.filter(func(e funnel.Event) bool {
		if !q.Window.IsZero() && !q.Window.Contains(e.Timestamp) {
			return false
		}
		if len(steps) > 0 {
			if _, ok := steps[e.Step]; !ok {
				return false
			}
		}
		return true
	}), nil
}

func (s *MemoryEventStore) EventsByUser(_ context.Context, userID string) ([]funnel.Event, error) {
	return s.filter(func(e funnel.Event) bool { return e.UserID == userID }), nil
}

func (s *MemoryEventStore) GroupCount(_ context.Context, q funnel.GroupQuery) ([]funnel.GroupCount, error) {
	type key struct{ step, segment string }
	users := make(map[key]map[string]struct{})
	counts := make(map[key]uint64)

	for _, e := range s.filter(func(e funnel.Event) bool {
		return q.Window.IsZero() || q.Window.Contains(e.Timestamp)
	}) {
		k := key{step: e.Step}
		if q.SegmentBy != "" {
			k.segment = e.Metadata.Segment(q.SegmentBy)
		}
		if users[k] == nil {
			users[k] = make(map[string]struct{})
		}
		users[k][e.UserID] = struct{}{}
		counts[k]++
	}

	results := make([]funnel.GroupCount, 0, len(users))
	for k, u := range users {
		results = append(results, funnel.GroupCount{
			Step:        k.step,
			Segment:     k.segment,
			UniqueUsers: uint64(len(u)),
			TotalEvents: counts[k],
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Step != results[j].Step {
			return results[i].Step < results[j].Step
		}
		return results[i].Segment < results[j].Segment
	})
	return results, nil
}

func (s *MemoryEventStore) DistinctCount(_ context.Context, q funnel.DistinctQuery) (uint64, error) {
	users := make(map[string]struct{})
	for _, e := range s.filter(func(e funnel.Event) bool {
		if e.Step != q.Step {
			return false
		}
		if q.UserID != "" && e.UserID != q.UserID {
			return false
		}
		return q.Window.IsZero() || q.Window.Contains(e.Timestamp)
	}) {
		users[e.UserID] = struct{}{}
	}
	return uint64(len(users)), nil
}

// filter copies matching events and orders them by timestamp, keeping
// insertion order for equal timestamps.
func (s *MemoryEventStore) filter(match func(funnel.Event) bool) []funnel.Event {
	s.mu.RLock()
	out := make([]funnel.Event, 0)
	for _, e := range s.events {
		if match(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	funnel.SortEvents(out)
	return out
}
