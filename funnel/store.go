package funnel

import "context"

// GroupCount is one row of a grouped step aggregation.
type GroupCount struct {
	Step        string
	Segment     string
	UniqueUsers uint64
	TotalEvents uint64
}

// GroupQuery groups events in Window by step, and by the metadata field
// SegmentBy when it is set.
type GroupQuery struct {
	Window    Window
	SegmentBy string
}

// RangeQuery selects events in Window, optionally limited to Steps.
type RangeQuery struct {
	Window Window
	Steps  []string
}

// DistinctQuery counts distinct users that reached Step. UserID narrows the
// count to a single user; a zero Window means all time.
type DistinctQuery struct {
	Step   string
	UserID string
	Window Window
}

// EventStore is the query capability the engine needs from the event
// persistence layer. Implementations return events ordered by timestamp.
type EventStore interface {
	Insert(ctx context.Context, event Event) error
	RangeScan(ctx context.Context, q RangeQuery) ([]Event, error)
	EventsByUser(ctx context.Context, userID string) ([]Event, error)
	GroupCount(ctx context.Context, q GroupQuery) ([]GroupCount, error)
	DistinctCount(ctx context.Context, q DistinctQuery) (uint64, error)
}

// EventPublisher forwards tracked events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) error
}
