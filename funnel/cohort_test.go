package funnel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinyhome/api/funnel"
)

func TestCohortPeriod_Label(t *testing.T) {
	weekly := funnel.CohortWeekly
	assert.Equal(t, "2026-W10", weekly.Label(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2020-W53", weekly.Label(time.Date(2021, 1, 3, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2021-W01", weekly.Label(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)))

	// Labels are taken in UTC regardless of the caller's zone.
	tz := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, "2026-03", funnel.CohortMonthly.Label(time.Date(2026, 2, 28, 22, 0, 0, 0, tz)))
}

func TestParseCohortPeriod(t *testing.T) {
	p, err := funnel.ParseCohortPeriod("")
	require.NoError(t, err)
	assert.Equal(t, funnel.CohortWeekly, p)

	p, err = funnel.ParseCohortPeriod("monthly")
	require.NoError(t, err)
	assert.Equal(t, funnel.CohortMonthly, p)

	_, err = funnel.ParseCohortPeriod("daily")
	assert.ErrorIs(t, err, funnel.ErrInvalidCohortPeriod)
}

func cohortEvents() []funnel.Event {
	mon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return []funnel.Event{
		ev("u1", "homepage_view", mon),
		ev("u1", "order_confirmed", mon.Add(48*time.Hour)),
		ev("u2", "homepage_view", mon.Add(24*time.Hour)),
		ev("u2", "model_browse", mon.Add(25*time.Hour)),
		ev("u3", "homepage_view", mon.Add(8*24*time.Hour)),
	}
}

func TestAnalyzeCohorts_Weekly(t *testing.T) {
	report := funnel.AnalyzeCohorts(reg, cohortEvents(), funnel.CohortWeekly)

	require.Len(t, report.Cohorts, 2)
	first, second := report.Cohorts[0], report.Cohorts[1]

	assert.Equal(t, "2026-W10", first.Period)
	assert.Equal(t, 2, first.TotalUsers)
	assert.Equal(t, 1, first.Conversions)
	assert.Equal(t, 50.0, first.ConversionRate)
	assert.Equal(t, 2.0, first.AvgStepsCompleted)
	assert.Equal(t, 2.0, first.AvgDaysToConvert)

	assert.Equal(t, "2026-W11", second.Period)
	assert.Equal(t, 1, second.TotalUsers)
	assert.Equal(t, 0.0, second.ConversionRate)
	assert.Equal(t, 0.0, second.AvgDaysToConvert)

	s := report.Summary
	assert.Equal(t, 3, s.TotalUsers)
	assert.Equal(t, "2026-W10", s.BestCohort)
	assert.Equal(t, "2026-W11", s.WorstCohort)
	assert.Equal(t, 25.0, s.AvgConversionRate)
	assert.Equal(t, funnel.TrendDeclining, s.Trend)
	assert.Equal(t, -100.0, s.RateChange)
	assert.Equal(t, funnel.ConfidenceLow, s.Confidence)
	assert.NotEmpty(t, s.Message)
	assert.True(t, report.Declining())
}

func TestAnalyzeCohorts_PartitionsUsers(t *testing.T) {
	events := cohortEvents()
	for _, period := range []funnel.CohortPeriod{funnel.CohortWeekly, funnel.CohortMonthly} {
		report := funnel.AnalyzeCohorts(reg, events, period)

		total := 0
		for _, c := range report.Cohorts {
			total += c.TotalUsers
			assert.LessOrEqual(t, c.Conversions, c.TotalUsers)
		}
		assert.Equal(t, 3, total, "period %s", period)
	}

	monthly := funnel.AnalyzeCohorts(reg, events, funnel.CohortMonthly)
	require.Len(t, monthly.Cohorts, 1)
	assert.Equal(t, "2026-03", monthly.Cohorts[0].Period)
	assert.Equal(t, funnel.TrendInsufficientData, monthly.Summary.Trend)
	assert.False(t, monthly.Declining())
}

func TestAnalyzeCohorts_Trend(t *testing.T) {
	weeks := []time.Time{
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
	}
	var events []funnel.Event
	add := func(week int, user string, converted bool) {
		events = append(events, ev(user, "homepage_view", weeks[week]))
		if converted {
			events = append(events, ev(user, "order_confirmed", weeks[week].Add(time.Hour)))
		}
	}
	// 50%, 50%, then 45%: a 10% relative drop is still stable.
	for i := 0; i < 20; i++ {
		add(0, "a"+string(rune('a'+i)), i < 10)
		add(1, "b"+string(rune('a'+i)), i < 10)
		add(2, "c"+string(rune('a'+i)), i < 9)
	}

	report := funnel.AnalyzeCohorts(reg, events, funnel.CohortWeekly)
	require.Len(t, report.Cohorts, 3)
	assert.Equal(t, funnel.ConfidenceHigh, report.Summary.Confidence)
	assert.Empty(t, report.Summary.Message)
	assert.Equal(t, funnel.TrendStable, report.Summary.Trend)
	assert.Equal(t, -10.0, report.Summary.RateChange)
	assert.False(t, report.Declining())
}

func TestAnalyzeCohorts_Empty(t *testing.T) {
	report := funnel.AnalyzeCohorts(reg, nil, funnel.CohortWeekly)
	assert.Empty(t, report.Cohorts)
	assert.Equal(t, funnel.ConfidenceLow, report.Summary.Confidence)
	assert.Equal(t, funnel.TrendInsufficientData, report.Summary.Trend)

	var nilReport *funnel.CohortReport
	assert.False(t, nilReport.Declining())
}
