package funnel_test

import (
	"time"

	"tinyhome/api/funnel"
)

var base = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

var reg = funnel.DefaultRegistry()

func ev(user, step string, ts time.Time) funnel.Event {
	def, ok := reg.Step(step)
	if !ok {
		panic("unknown step in test: " + step)
	}
	return funnel.Event{
		EventID:   user + ":" + step + ":" + ts.Format(time.RFC3339Nano),
		UserID:    user,
		SessionID: "s-" + user,
		Step:      step,
		StepOrder: def.Order,
		Category:  def.Category,
		Timestamp: ts,
	}
}

func withMeta(e funnel.Event, m funnel.Metadata) funnel.Event {
	e.Metadata = m
	return e
}
