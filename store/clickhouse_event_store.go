package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tinyhome/api/database"
	"tinyhome/api/funnel"
)

const createFunnelEventsTable = `
	CREATE TABLE IF NOT EXISTS funnel_events (
		event_id   String,
		user_id    String,
		session_id String,
		step       LowCardinality(String),
		step_order UInt16,
		category   LowCardinality(String),
		timestamp  DateTime64(3, 'UTC'),
		metadata   String
	) ENGINE = MergeTree
	ORDER BY (user_id, timestamp)
`

const selectEventColumns = `event_id, user_id, session_id, step, step_order, category, timestamp, metadata`

// segmentExpr extracts a metadata field as the segmentation label. Strings
// lose their quotes; absent or null fields become 'unknown'.
const segmentExpr = `if(JSONExtractRaw(metadata, ?) IN ('', 'null', '""'), 'unknown', trim(BOTH '"' FROM JSONExtractRaw(metadata, ?)))`

// ClickHouseEventStore persists funnel events in ClickHouse and answers the
// engine's range, per-user and grouped queries.
type ClickHouseEventStore struct {
	DB     *database.ClickHouseClient
	logger *zap.Logger
}

func NewClickHouseEventStore(chClient *database.ClickHouseClient, logger *zap.Logger) *ClickHouseEventStore {
	return &ClickHouseEventStore{
		DB:     chClient,
		logger: logger,
	}
}

// EnsureSchema creates the events table if it does not exist.
func (s *ClickHouseEventStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, createFunnelEventsTable); err != nil {
		return fmt.Errorf("failed to create funnel_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) Insert(ctx context.Context, event funnel.Event) error {
	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return err
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO funnel_events (
			event_id, user_id, session_id, step, step_order, category, timestamp, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	if err := batch.Append(
		event.EventID,
		event.UserID,
		event.SessionID,
		event.Step,
		uint16(event.StepOrder),
		string(event.Category),
		event.Timestamp,
		metadata,
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append event %s to batch: %w", event.EventID, err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) RangeScan(ctx context.Context, q funnel.RangeQuery) ([]funnel.Event, error) {
	where, args := windowClause(q.Window)
	if len(q.Steps) > 0 {
		where = appendCond(where, "has(?, step)")
		args = append(args, q.Steps)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM funnel_events
		%s
		ORDER BY timestamp ASC
	`, selectEventColumns, where)

	return s.queryEvents(ctx, "range scan", query, args...)
}

func (s *ClickHouseEventStore) EventsByUser(ctx context.Context, userID string) ([]funnel.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM funnel_events
		WHERE user_id = ?
		ORDER BY timestamp ASC
	`, selectEventColumns)

	return s.queryEvents(ctx, "events by user", query, userID)
}

func (s *ClickHouseEventStore) GroupCount(ctx context.Context, q funnel.GroupQuery) ([]funnel.GroupCount, error) {
	where, whereArgs := windowClause(q.Window)

	selectCols := "step, '' AS segment, uniqExact(user_id) AS unique_users, count() AS total_events"
	var args []interface{}
	if q.SegmentBy != "" {
		selectCols = fmt.Sprintf("step, %s AS segment, uniqExact(user_id) AS unique_users, count() AS total_events", segmentExpr)
		args = append(args, q.SegmentBy, q.SegmentBy)
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf(`
		SELECT %s
		FROM funnel_events
		%s
		GROUP BY step, segment
		ORDER BY step ASC, segment ASC
	`, selectCols, where)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped step counts: %w", err)
	}
	defer rows.Close()

	var results []funnel.GroupCount
	for rows.Next() {
		var c funnel.GroupCount
		if err := rows.Scan(&c.Step, &c.Segment, &c.UniqueUsers, &c.TotalEvents); err != nil {
			return nil, fmt.Errorf("failed to scan grouped step count: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped step counts: %w", err)
	}
	return results, nil
}

func (s *ClickHouseEventStore) DistinctCount(ctx context.Context, q funnel.DistinctQuery) (uint64, error) {
	where, args := windowClause(q.Window)
	where = appendCond(where, "step = ?")
	args = append(args, q.Step)
	if q.UserID != "" {
		where = appendCond(where, "user_id = ?")
		args = append(args, q.UserID)
	}

	query := fmt.Sprintf(`SELECT uniqExact(user_id) FROM funnel_events %s`, where)

	var count uint64
	if err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distinct users for step %s: %w", q.Step, err)
	}
	return count, nil
}

func (s *ClickHouseEventStore) queryEvents(ctx context.Context, name, query string, args ...interface{}) ([]funnel.Event, error) {
	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	defer rows.Close()

	events := make([]funnel.Event, 0)
	for rows.Next() {
		var (
			e         funnel.Event
			stepOrder uint16
			category  string
			ts        time.Time
			metadata  string
		)
		if err := rows.Scan(&e.EventID, &e.UserID, &e.SessionID, &e.Step, &stepOrder, &category, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", name, err)
		}
		e.StepOrder = int(stepOrder)
		e.Category = funnel.Category(category)
		e.Timestamp = ts.UTC()
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				s.logger.Warn("Dropping unreadable event metadata", zap.String("event_id", e.EventID), zap.Error(err))
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", name, err)
	}

	funnel.SortEvents(events)
	return events, nil
}

func windowClause(w funnel.Window) (string, []interface{}) {
	if w.IsZero() {
		return "", nil
	}
	return "WHERE timestamp >= ? AND timestamp <= ?", []interface{}{w.Start, w.End}
}

func appendCond(where, cond string) string {
	if strings.TrimSpace(where) == "" {
		return "WHERE " + cond
	}
	return where + " AND " + cond
}

func encodeMetadata(m funnel.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode event metadata: %w", err)
	}
	return string(b), nil
}
