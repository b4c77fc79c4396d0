package funnel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// UnknownSegment labels events whose metadata lacks the segmentation field.
const UnknownSegment = "unknown"

// Metadata is an open map of scalar values attached to an event (source,
// medium, campaign, device, location, referrer, userAgent, ...). Keys the
// engine does not know about are kept as-is.
type Metadata map[string]any

// Validate rejects nested objects and arrays.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		default:
			return fmt.Errorf("%w: key %q has %T", ErrInvalidMetadata, k, v)
		}
	}
	return nil
}

// String renders the value under key, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Segment returns the segmentation label for field.
func (m Metadata) Segment(field string) string {
	if s := m.String(field); s != "" {
		return s
	}
	return UnknownSegment
}

// Merge returns a new map holding base overlaid with m. Empty string values
// in base are dropped.
func (m Metadata) Merge(base Metadata) Metadata {
	out := make(Metadata, len(base)+len(m))
	for k, v := range base {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Event is one tracked step interaction. Events are append-only.
type Event struct {
	EventID   string    `json:"eventId"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Step      string    `json:"step"`
	StepOrder int       `json:"stepOrder"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// Window is an inclusive time range.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// IsZero reports an unbounded window.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// SortEvents orders events by timestamp, keeping insertion order for ties.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
