package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinyhome/api/funnel"
)

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func seedMemoryStore(t *testing.T) *MemoryEventStore {
	t.Helper()
	s := NewMemoryEventStore()
	ctx := context.Background()
	for _, e := range []funnel.Event{
		{EventID: "3", UserID: "u1", Step: "model_browse", Timestamp: t0.Add(time.Minute), Metadata: funnel.Metadata{"device": "mobile"}},
		{EventID: "1", UserID: "u1", Step: "homepage_view", Timestamp: t0, Metadata: funnel.Metadata{"device": "mobile"}},
		{EventID: "2", UserID: "u2", Step: "homepage_view", Timestamp: t0},
		{EventID: "4", UserID: "u2", Step: "homepage_view", Timestamp: t0.Add(48 * time.Hour)},
	} {
		require.NoError(t, s.Insert(ctx, e))
	}
	return s
}

func ids(events []funnel.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventID
	}
	return out
}

func TestMemoryEventStore_RangeScan(t *testing.T) {
	s := seedMemoryStore(t)
	ctx := context.Background()

	all, err := s.RangeScan(ctx, funnel.RangeQuery{})
	require.NoError(t, err)
	// Equal timestamps keep insertion order.
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(all))

	day, err := s.RangeScan(ctx, funnel.RangeQuery{
		Window: funnel.Window{Start: t0, End: t0.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(day))

	browse, err := s.RangeScan(ctx, funnel.RangeQuery{Steps: []string{"model_browse"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids(browse))
}

func TestMemoryEventStore_EventsByUser(t *testing.T) {
	s := seedMemoryStore(t)

	events, err := s.EventsByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(events))

	none, err := s.EventsByUser(context.Background(), "u9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryEventStore_GroupCount(t *testing.T) {
	s := seedMemoryStore(t)
	ctx := context.Background()

	counts, err := s.GroupCount(ctx, funnel.GroupQuery{})
	require.NoError(t, err)
	assert.Equal(t, []funnel.GroupCount{
		{Step: "homepage_view", UniqueUsers: 2, TotalEvents: 3},
		{Step: "model_browse", UniqueUsers: 1, TotalEvents: 1},
	}, counts)

	bySegment, err := s.GroupCount(ctx, funnel.GroupQuery{
		Window:    funnel.Window{Start: t0, End: t0.Add(time.Hour)},
		SegmentBy: "device",
	})
	require.NoError(t, err)
	assert.Equal(t, []funnel.GroupCount{
		{Step: "homepage_view", Segment: "mobile", UniqueUsers: 1, TotalEvents: 1},
		{Step: "homepage_view", Segment: funnel.UnknownSegment, UniqueUsers: 1, TotalEvents: 1},
		{Step: "model_browse", Segment: "mobile", UniqueUsers: 1, TotalEvents: 1},
	}, bySegment)
}

func TestMemoryEventStore_DistinctCount(t *testing.T) {
	s := seedMemoryStore(t)
	ctx := context.Background()

	n, err := s.DistinctCount(ctx, funnel.DistinctQuery{Step: "homepage_view"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	n, err = s.DistinctCount(ctx, funnel.DistinctQuery{Step: "homepage_view", UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	n, err = s.DistinctCount(ctx, funnel.DistinctQuery{Step: "model_browse", UserID: "u2"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryEventStore_ReturnsCopies(t *testing.T) {
	s := seedMemoryStore(t)
	ctx := context.Background()

	events, err := s.EventsByUser(ctx, "u1")
	require.NoError(t, err)
	events[0].Step = "tampered"

	again, err := s.EventsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "homepage_view", again[0].Step)
}
