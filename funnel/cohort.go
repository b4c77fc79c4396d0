package funnel

import (
	"fmt"
	"sort"
	"time"
)

type CohortPeriod string

const (
	CohortWeekly  CohortPeriod = "weekly"
	CohortMonthly CohortPeriod = "monthly"
)

// minCohortsForTrend is the point below which cohort results are low confidence.
const minCohortsForTrend = 3

// cohortDeclineThreshold is the relative period-over-period drop, in percent,
// that counts as a decline.
const cohortDeclineThreshold = 20.0

// ParseCohortPeriod defaults to weekly when s is empty.
func ParseCohortPeriod(s string) (CohortPeriod, error) {
	switch CohortPeriod(s) {
	case "":
		return CohortWeekly, nil
	case CohortWeekly, CohortMonthly:
		return CohortPeriod(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCohortPeriod, s)
}

// Label returns the cohort key for t: ISO-8601 week ("2026-W07") for weekly,
// year-month ("2026-02") for monthly. Times are taken in UTC.
func (p CohortPeriod) Label(t time.Time) string {
	t = t.UTC()
	if p == CohortMonthly {
		return t.Format("2006-01")
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

type Cohort struct {
	Period            string  `json:"period"`
	TotalUsers        int     `json:"totalUsers"`
	Conversions       int     `json:"conversions"`
	ConversionRate    float64 `json:"conversionRate"`
	AvgStepsCompleted float64 `json:"avgStepsCompleted"`
	AvgDaysToConvert  float64 `json:"avgDaysToConvert"`
}

type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceHigh Confidence = "high"
)

type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

type CohortSummary struct {
	TotalCohorts      int        `json:"totalCohorts"`
	TotalUsers        int        `json:"totalUsers"`
	AvgConversionRate float64    `json:"avgConversionRate"`
	BestCohort        string     `json:"bestCohort,omitempty"`
	WorstCohort       string     `json:"worstCohort,omitempty"`
	Trend             Trend      `json:"trend"`
	RateChange        float64    `json:"rateChange"`
	Confidence        Confidence `json:"confidence"`
	Message           string     `json:"message,omitempty"`
}

type CohortReport struct {
	Period  CohortPeriod  `json:"period"`
	Cohorts []Cohort      `json:"cohorts"`
	Summary CohortSummary `json:"summary"`
}

// Declining reports whether the latest cohort converts more than 20% worse
// than the one before it.
func (r *CohortReport) Declining() bool {
	return r != nil && r.Summary.Trend == TrendDeclining
}

// AnalyzeCohorts groups users by the period of their first event and
// summarises conversion per cohort.
func AnalyzeCohorts(reg *Registry, events []Event, period CohortPeriod) CohortReport {
	goal := reg.PrimaryGoal()
	users := groupByUser(events)

	type cohortAcc struct {
		users     int
		converted int
		steps     int
		convDays  float64
	}
	cohorts := make(map[string]*cohortAcc)

	for _, uid := range sortedKeys(users) {
		evs := users[uid]
		first, last := evs[0].Timestamp, evs[len(evs)-1].Timestamp
		label := period.Label(first)

		c, ok := cohorts[label]
		if !ok {
			c = &cohortAcc{}
			cohorts[label] = c
		}
		c.users++
		distinct := make(map[string]struct{})
		converted := false
		for _, e := range evs {
			distinct[e.Step] = struct{}{}
			if e.Step == goal {
				converted = true
			}
		}
		c.steps += len(distinct)
		if converted {
			c.converted++
			c.convDays += last.Sub(first).Hours() / 24
		}
	}

	report := CohortReport{Period: period, Cohorts: make([]Cohort, 0, len(cohorts))}
	for _, label := range sortedKeys(cohorts) {
		c := cohorts[label]
		report.Cohorts = append(report.Cohorts, Cohort{
			Period:            label,
			TotalUsers:        c.users,
			Conversions:       c.converted,
			ConversionRate:    Percent(uint64(c.converted), uint64(c.users)),
			AvgStepsCompleted: round2(ratio(float64(c.steps), float64(c.users))),
			AvgDaysToConvert:  round2(ratio(c.convDays, float64(c.converted))),
		})
	}
	report.Summary = summarizeCohorts(report.Cohorts)
	return report
}

func summarizeCohorts(cohorts []Cohort) CohortSummary {
	s := CohortSummary{TotalCohorts: len(cohorts), Trend: TrendInsufficientData, Confidence: ConfidenceHigh}
	if len(cohorts) < minCohortsForTrend {
		s.Confidence = ConfidenceLow
		s.Message = fmt.Sprintf("only %d cohort(s) in range; at least %d are needed for a reliable trend", len(cohorts), minCohortsForTrend)
	}
	if len(cohorts) == 0 {
		return s
	}

	var rateSum float64
	best, worst := cohorts[0], cohorts[0]
	for _, c := range cohorts {
		s.TotalUsers += c.TotalUsers
		rateSum += c.ConversionRate
		if c.ConversionRate > best.ConversionRate {
			best = c
		}
		if c.ConversionRate < worst.ConversionRate {
			worst = c
		}
	}
	s.AvgConversionRate = round2(rateSum / float64(len(cohorts)))
	s.BestCohort = best.Period
	s.WorstCohort = worst.Period

	if len(cohorts) < 2 {
		return s
	}
	prev, last := cohorts[len(cohorts)-2], cohorts[len(cohorts)-1]
	switch {
	case prev.ConversionRate == 0 && last.ConversionRate == 0:
		s.Trend = TrendStable
	case prev.ConversionRate == 0:
		s.Trend = TrendImproving
		s.RateChange = 100
	default:
		s.RateChange = round2((last.ConversionRate - prev.ConversionRate) / prev.ConversionRate * 100)
		switch {
		case s.RateChange < -cohortDeclineThreshold:
			s.Trend = TrendDeclining
		case s.RateChange > cohortDeclineThreshold:
			s.Trend = TrendImproving
		default:
			s.Trend = TrendStable
		}
	}
	return s
}

// groupByUser splits events per user, each list in timestamp order.
func groupByUser(events []Event) map[string][]Event {
	users := make(map[string][]Event)
	for _, e := range events {
		users[e.UserID] = append(users[e.UserID], e)
	}
	for _, evs := range users {
		SortEvents(evs)
	}
	return users
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
