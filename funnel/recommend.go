package funnel

import (
	"fmt"
	"sort"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Recommendation struct {
	Type            string   `json:"type"`
	Priority        Priority `json:"priority"`
	Area            string   `json:"area"`
	Issue           string   `json:"issue"`
	Impact          string   `json:"impact"`
	Effort          string   `json:"effort"`
	Recommendations []string `json:"recommendations"`
}

const (
	maxCriticalDropOffs = 3
	// slowConversionHours is the average time to convert above which the
	// purchase path is flagged as slow.
	slowConversionHours = 24.0
)

// SynthesizeRecommendations merges the worst critical drop-offs, a slow
// conversion signal and a cohort decline signal into one list ordered by
// priority. Missing inputs are skipped.
func SynthesizeRecommendations(dropOffs []DropOff, journeys *JourneyReport, cohorts *CohortReport) []Recommendation {
	recs := make([]Recommendation, 0)

	critical := make([]DropOff, 0, maxCriticalDropOffs)
	for _, d := range dropOffs {
		if d.Severity == SeverityCritical {
			critical = append(critical, d)
		}
	}
	sort.SliceStable(critical, func(i, j int) bool { return critical[i].DropOffRate > critical[j].DropOffRate })
	if len(critical) > maxCriticalDropOffs {
		critical = critical[:maxCriticalDropOffs]
	}
	for _, d := range critical {
		recs = append(recs, Recommendation{
			Type:            "funnel_dropoff",
			Priority:        PriorityUrgent,
			Area:            d.FromStep + " → " + d.ToStep,
			Issue:           fmt.Sprintf("%.2f%% of users drop off between %s and %s", d.DropOffRate, d.FromStep, d.ToStep),
			Impact:          fmt.Sprintf("%d users lost at this transition", d.UsersLost),
			Effort:          "medium",
			Recommendations: d.Recommendations,
		})
	}

	if journeys != nil && journeys.Metrics.AvgTimeToConvert > slowConversionHours {
		recs = append(recs, Recommendation{
			Type:     "conversion_speed",
			Priority: PriorityHigh,
			Area:     "customer journey",
			Issue:    fmt.Sprintf("Converting visitors take %.1f hours on average to order", journeys.Metrics.AvgTimeToConvert),
			Impact:   "Long decision cycles increase the chance of losing the buyer to a competitor",
			Effort:   "medium",
			Recommendations: []string{
				"Send saved-build and estimate reminders within 24 hours",
				"Offer a limited-time deposit incentive after a quote is requested",
				"Make consultation booking available from every build page",
			},
		})
	}

	if cohorts.Declining() {
		recs = append(recs, Recommendation{
			Type:     "cohort_decline",
			Priority: PriorityHigh,
			Area:     "retention",
			Issue:    fmt.Sprintf("Latest cohort conversion changed %.2f%% from the previous period", cohorts.Summary.RateChange),
			Impact:   "Recent visitors are converting noticeably worse than earlier ones",
			Effort:   "high",
			Recommendations: []string{
				"Compare traffic sources of the latest cohort against the previous one",
				"Review site, pricing or inventory changes released during the period",
			},
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority.rank() > recs[j].Priority.rank() })
	return recs
}
