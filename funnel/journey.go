package funnel

import (
	"sort"
	"strings"
	"time"
)

// PathSeparator joins step ids when a journey is rendered as a path.
const PathSeparator = " → "

const (
	commonPathLimit = 10
	// longGap is the idle time between two events that marks a bottleneck.
	longGap = 24 * time.Hour
)

// Pattern flags how a journey moved through the funnel. Linear journeys are
// strictly increasing; Skip is evaluated for every journey since a strictly
// increasing path can still jump over catalog steps.
type Pattern struct {
	Linear    bool `json:"linear"`
	Backtrack bool `json:"backtrack"`
	Skip      bool `json:"skip"`
	Loop      bool `json:"loop"`
}

// ClassifyPattern classifies a journey from the canonical position of each
// event and the raw step sequence.
func ClassifyPattern(orders []int, steps []string) Pattern {
	p := Pattern{Linear: true}
	for i := 1; i < len(orders); i++ {
		if orders[i] <= orders[i-1] {
			p.Linear = false
		}
		if orders[i] < orders[i-1] {
			p.Backtrack = true
		}
	}

	distinct := make(map[int]struct{}, len(orders))
	for _, o := range orders {
		distinct[o] = struct{}{}
	}
	uniq := make([]int, 0, len(distinct))
	for o := range distinct {
		uniq = append(uniq, o)
	}
	sort.Ints(uniq)
	for i := 1; i < len(uniq); i++ {
		if uniq[i]-uniq[i-1] > 1 {
			p.Skip = true
			break
		}
	}

	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if _, ok := seen[s]; ok {
			p.Loop = true
			break
		}
		seen[s] = struct{}{}
	}
	return p
}

type PatternTally struct {
	Linear    int `json:"linear"`
	Backtrack int `json:"backtrack"`
	Skip      int `json:"skip"`
	Loop      int `json:"loop"`
}

type PatternShare struct {
	Linear    float64 `json:"linear"`
	Backtrack float64 `json:"backtrack"`
	Skip      float64 `json:"skip"`
	Loop      float64 `json:"loop"`
}

type PatternBreakdown struct {
	Counts      PatternTally `json:"counts"`
	Percentages PatternShare `json:"percentages"`
}

type JourneyMetrics struct {
	AvgJourneyLength     float64 `json:"avgJourneyLength"`
	Conversions          int     `json:"conversions"`
	ConversionRate       float64 `json:"conversionRate"`
	AbandonmentRate      float64 `json:"abandonmentRate"`
	AvgTimeToConvert     float64 `json:"avgTimeToConvert"`
	AvgStepsToConversion float64 `json:"avgStepsToConversion"`
}

type PathCount struct {
	Path  string   `json:"path"`
	Steps []string `json:"steps"`
	Count int      `json:"count"`
	Share float64  `json:"share"`
}

type AbandonmentPoint struct {
	Step  string  `json:"step"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

type JourneyReport struct {
	TotalJourneys int                `json:"totalJourneys"`
	Patterns      PatternBreakdown   `json:"patterns"`
	Metrics       JourneyMetrics     `json:"metrics"`
	CommonPaths   []PathCount        `json:"commonPaths"`
	Abandonment   []AbandonmentPoint `json:"abandonment"`
}

// journey is the per-user working view used by the mapper.
type journey struct {
	userID string
	events []Event
	steps  []string
	ranks  []int
}

func buildJourney(reg *Registry, userID string, events []Event) journey {
	j := journey{userID: userID, events: events, steps: make([]string, len(events)), ranks: make([]int, len(events))}
	for i, e := range events {
		j.steps[i] = e.Step
		j.ranks[i] = reg.Rank(e.Step)
	}
	return j
}

// goalIndex is the position of the first goal event, or -1.
func (j journey) goalIndex(goal string) int {
	for i, s := range j.steps {
		if s == goal {
			return i
		}
	}
	return -1
}

// AnalyzeJourneys reconstructs every user's journey in events and reports
// pattern counts, aggregate metrics, the most common paths and where
// non-converting journeys ended.
func AnalyzeJourneys(reg *Registry, events []Event) JourneyReport {
	goal := reg.PrimaryGoal()
	users := groupByUser(events)

	report := JourneyReport{
		TotalJourneys: len(users),
		CommonPaths:   make([]PathCount, 0),
		Abandonment:   make([]AbandonmentPoint, 0),
	}
	if len(users) == 0 {
		return report
	}

	var (
		tally          PatternTally
		totalEvents    int
		conversions    int
		convertedSteps int
		convertHours   float64
		paths          = make(map[string]*PathCount)
		abandoned      = make(map[string]int)
		abandonedTotal int
	)

	for _, uid := range sortedKeys(users) {
		j := buildJourney(reg, uid, users[uid])
		totalEvents += len(j.events)

		p := ClassifyPattern(j.ranks, j.steps)
		if p.Linear {
			tally.Linear++
		}
		if p.Backtrack {
			tally.Backtrack++
		}
		if p.Skip {
			tally.Skip++
		}
		if p.Loop {
			tally.Loop++
		}

		key := strings.Join(j.steps, PathSeparator)
		pc, ok := paths[key]
		if !ok {
			pc = &PathCount{Path: key, Steps: j.steps}
			paths[key] = pc
		}
		pc.Count++

		if gi := j.goalIndex(goal); gi >= 0 {
			conversions++
			convertedSteps += len(j.events)
			convertHours += j.events[gi].Timestamp.Sub(j.events[0].Timestamp).Hours()
		} else {
			abandoned[j.steps[len(j.steps)-1]]++
			abandonedTotal++
		}
	}

	total := uint64(len(users))
	report.Patterns = PatternBreakdown{
		Counts: tally,
		Percentages: PatternShare{
			Linear:    Percent(uint64(tally.Linear), total),
			Backtrack: Percent(uint64(tally.Backtrack), total),
			Skip:      Percent(uint64(tally.Skip), total),
			Loop:      Percent(uint64(tally.Loop), total),
		},
	}

	convRate := Percent(uint64(conversions), total)
	report.Metrics = JourneyMetrics{
		AvgJourneyLength:     round2(ratio(float64(totalEvents), float64(total))),
		Conversions:          conversions,
		ConversionRate:       convRate,
		AbandonmentRate:      round2(100 - convRate),
		AvgTimeToConvert:     round2(ratio(convertHours, float64(conversions))),
		AvgStepsToConversion: round2(ratio(float64(convertedSteps), float64(conversions))),
	}

	report.CommonPaths = topPaths(paths, total, commonPathLimit)

	for step, n := range abandoned {
		report.Abandonment = append(report.Abandonment, AbandonmentPoint{
			Step:  step,
			Count: n,
			Share: Percent(uint64(n), uint64(abandonedTotal)),
		})
	}
	sort.Slice(report.Abandonment, func(i, k int) bool {
		a, b := report.Abandonment[i], report.Abandonment[k]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return reg.Rank(a.Step) < reg.Rank(b.Step)
	})
	return report
}

func topPaths(paths map[string]*PathCount, total uint64, limit int) []PathCount {
	out := make([]PathCount, 0, len(paths))
	for _, pc := range paths {
		pc.Share = Percent(uint64(pc.Count), total)
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Bottleneck marks a point in a single user's journey where progress stalled.
type Bottleneck struct {
	FromStep string  `json:"fromStep"`
	ToStep   string  `json:"toStep"`
	Reason   string  `json:"reason"`
	GapHours float64 `json:"gapHours"`
}

const (
	BottleneckLongGap   = "long_gap"
	BottleneckBacktrack = "backtrack"
)

type UserJourneyMetrics struct {
	TotalEvents    int       `json:"totalEvents"`
	UniqueSteps    int       `json:"uniqueSteps"`
	Sessions       int       `json:"sessions"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	DurationHours  float64   `json:"durationHours"`
	Converted      bool      `json:"converted"`
	HoursToConvert float64   `json:"hoursToConvert"`
	FurthestStep   string    `json:"furthestStep"`
	Pattern        Pattern   `json:"pattern"`
}

type UserJourney struct {
	UserID          string             `json:"userId"`
	Journey         []Event            `json:"journey"`
	Metrics         UserJourneyMetrics `json:"metrics"`
	Bottlenecks     []Bottleneck       `json:"bottlenecks"`
	Recommendations []string           `json:"recommendations"`
}

// MapJourney builds a single user's journey view. events must belong to
// userID; they are sorted in place by timestamp.
func MapJourney(reg *Registry, userID string, events []Event) UserJourney {
	SortEvents(events)
	uj := UserJourney{
		UserID:          userID,
		Journey:         events,
		Bottlenecks:     make([]Bottleneck, 0),
		Recommendations: make([]string, 0),
	}
	if len(events) == 0 {
		return uj
	}

	j := buildJourney(reg, userID, events)
	first, last := events[0].Timestamp, events[len(events)-1].Timestamp

	steps := make(map[string]struct{})
	sessions := make(map[string]struct{})
	furthest := 0
	for i, e := range events {
		steps[e.Step] = struct{}{}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
		if j.ranks[i] > j.ranks[furthest] {
			furthest = i
		}
	}

	m := UserJourneyMetrics{
		TotalEvents:   len(events),
		UniqueSteps:   len(steps),
		Sessions:      len(sessions),
		FirstSeen:     first,
		LastSeen:      last,
		DurationHours: round2(last.Sub(first).Hours()),
		FurthestStep:  events[furthest].Step,
		Pattern:       ClassifyPattern(j.ranks, j.steps),
	}
	if gi := j.goalIndex(reg.PrimaryGoal()); gi >= 0 {
		m.Converted = true
		m.HoursToConvert = round2(events[gi].Timestamp.Sub(first).Hours())
	}
	uj.Metrics = m

	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		gap := cur.Timestamp.Sub(prev.Timestamp)
		if gap > longGap {
			uj.Bottlenecks = append(uj.Bottlenecks, Bottleneck{
				FromStep: prev.Step,
				ToStep:   cur.Step,
				Reason:   BottleneckLongGap,
				GapHours: round2(gap.Hours()),
			})
		}
		if j.ranks[i] < j.ranks[i-1] {
			uj.Bottlenecks = append(uj.Bottlenecks, Bottleneck{
				FromStep: prev.Step,
				ToStep:   cur.Step,
				Reason:   BottleneckBacktrack,
				GapHours: round2(gap.Hours()),
			})
		}
	}

	uj.Recommendations = journeyRecommendations(reg, uj)
	return uj
}

func journeyRecommendations(reg *Registry, uj UserJourney) []string {
	recs := make([]string, 0)
	m := uj.Metrics
	if m.Pattern.Backtrack {
		recs = append(recs, "Visitor returned to earlier steps; make comparison and pricing information available without leaving the current step")
	}
	if m.Pattern.Loop {
		recs = append(recs, "Visitor repeated steps; check for confusing navigation or errors on the repeated pages")
	}
	if m.Pattern.Skip && !m.Converted {
		recs = append(recs, "Visitor skipped funnel steps; surface the skipped content at the step they stopped on")
	}
	for _, b := range uj.Bottlenecks {
		if b.Reason == BottleneckLongGap {
			recs = append(recs, "Long pauses between visits; send a follow-up with the saved build or estimate")
			break
		}
	}
	if !m.Converted {
		next := reg.NextSteps(m.FurthestStep, 1)
		if len(next) > 0 {
			def, _ := reg.Step(next[0])
			recs = append(recs, "Re-engage the visitor toward "+def.DisplayName+", the step after the furthest one reached")
		}
	}
	return recs
}
