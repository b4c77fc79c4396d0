package funnel

import (
	"math"
	"sort"
)

// SegmentVolume is the per-segment share of a step's volume.
type SegmentVolume struct {
	UniqueUsers uint64 `json:"uniqueUsers"`
	TotalEvents uint64 `json:"totalEvents"`
}

// StepVolume holds distinct users and raw events seen at one step.
type StepVolume struct {
	Step        string                   `json:"step"`
	Order       int                      `json:"order"`
	Category    Category                 `json:"category"`
	DisplayName string                   `json:"displayName"`
	UniqueUsers uint64                   `json:"uniqueUsers"`
	TotalEvents uint64                   `json:"totalEvents"`
	Segments    map[string]SegmentVolume `json:"segments,omitempty"`
}

// Transition is the conversion between two consecutive funnel steps. Rate is
// rounded to two decimals for display; FromUsers and ToUsers are exact.
type Transition struct {
	FromStep  string  `json:"fromStep"`
	ToStep    string  `json:"toStep"`
	FromUsers uint64  `json:"fromUsers"`
	ToUsers   uint64  `json:"toUsers"`
	Rate      float64 `json:"rate"`
	DropOff   uint64  `json:"dropOff"`
}

// Overall is top-of-funnel to primary goal conversion.
type Overall struct {
	FromStep  string  `json:"fromStep"`
	ToStep    string  `json:"toStep"`
	FromUsers uint64  `json:"fromUsers"`
	ToUsers   uint64  `json:"toUsers"`
	Rate      float64 `json:"rate"`
}

type ConversionRates struct {
	Transitions []Transition            `json:"transitions"`
	Overall     Overall                 `json:"overall"`
	Segments    map[string][]Transition `json:"segments,omitempty"`
}

// ComputeStepVolumes counts distinct users and events per step for events
// inside w. When segmentBy is set each step also carries a breakdown by the
// value of that metadata field.
func ComputeStepVolumes(reg *Registry, events []Event, w Window, segmentBy string) ([]StepVolume, error) {
	type acc struct {
		users    map[string]struct{}
		events   uint64
		segUsers map[string]map[string]struct{}
		segCount map[string]uint64
	}
	byStep := make(map[string]*acc)

	for _, e := range events {
		if !w.IsZero() && !w.Contains(e.Timestamp) {
			continue
		}
		if !reg.IsValidStep(e.Step) {
			return nil, &InvalidStepError{Step: e.Step}
		}
		a, ok := byStep[e.Step]
		if !ok {
			a = &acc{
				users:    make(map[string]struct{}),
				segUsers: make(map[string]map[string]struct{}),
				segCount: make(map[string]uint64),
			}
			byStep[e.Step] = a
		}
		a.users[e.UserID] = struct{}{}
		a.events++
		if segmentBy != "" {
			seg := e.Metadata.Segment(segmentBy)
			if a.segUsers[seg] == nil {
				a.segUsers[seg] = make(map[string]struct{})
			}
			a.segUsers[seg][e.UserID] = struct{}{}
			a.segCount[seg]++
		}
	}

	counts := make([]GroupCount, 0, len(byStep))
	var segCounts []GroupCount
	for step, a := range byStep {
		counts = append(counts, GroupCount{Step: step, UniqueUsers: uint64(len(a.users)), TotalEvents: a.events})
		for seg, users := range a.segUsers {
			segCounts = append(segCounts, GroupCount{
				Step:        step,
				Segment:     seg,
				UniqueUsers: uint64(len(users)),
				TotalEvents: a.segCount[seg],
			})
		}
	}
	return VolumesFromCounts(reg, counts, segCounts)
}

// VolumesFromCounts turns grouped store rows into step volumes in canonical
// order. segmentCounts may be nil when no segmentation was requested.
func VolumesFromCounts(reg *Registry, counts, segmentCounts []GroupCount) ([]StepVolume, error) {
	byStep := make(map[string]*StepVolume, len(counts))
	for _, c := range counts {
		def, ok := reg.Step(c.Step)
		if !ok {
			return nil, &InvalidStepError{Step: c.Step}
		}
		v, exists := byStep[c.Step]
		if !exists {
			v = &StepVolume{
				Step:        def.ID,
				Order:       def.Order,
				Category:    def.Category,
				DisplayName: def.DisplayName,
			}
			byStep[c.Step] = v
		}
		v.UniqueUsers += c.UniqueUsers
		v.TotalEvents += c.TotalEvents
	}
	for _, c := range segmentCounts {
		v, ok := byStep[c.Step]
		if !ok {
			if !reg.IsValidStep(c.Step) {
				return nil, &InvalidStepError{Step: c.Step}
			}
			continue
		}
		if v.Segments == nil {
			v.Segments = make(map[string]SegmentVolume)
		}
		s := v.Segments[c.Segment]
		s.UniqueUsers += c.UniqueUsers
		s.TotalEvents += c.TotalEvents
		v.Segments[c.Segment] = s
	}

	volumes := make([]StepVolume, 0, len(byStep))
	for _, v := range byStep {
		if v.UniqueUsers == 0 {
			continue
		}
		volumes = append(volumes, *v)
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Order < volumes[j].Order })
	return volumes, nil
}

// ComputeConversionRates walks consecutive steps (canonical order) that have
// volume and computes step-to-step rates plus overall conversion from the
// first catalog step to the primary goal.
func ComputeConversionRates(reg *Registry, volumes []StepVolume) ConversionRates {
	rates := ConversionRates{Transitions: transitions(volumes, func(v StepVolume) uint64 { return v.UniqueUsers })}

	first := reg.FirstStep().ID
	goal := reg.PrimaryGoal()
	rates.Overall = Overall{FromStep: first, ToStep: goal}
	for _, v := range volumes {
		switch v.Step {
		case first:
			rates.Overall.FromUsers = v.UniqueUsers
		case goal:
			rates.Overall.ToUsers = v.UniqueUsers
		}
	}
	rates.Overall.Rate = Percent(rates.Overall.ToUsers, rates.Overall.FromUsers)

	segments := make(map[string]struct{})
	for _, v := range volumes {
		for seg := range v.Segments {
			segments[seg] = struct{}{}
		}
	}
	if len(segments) > 0 {
		rates.Segments = make(map[string][]Transition, len(segments))
		for seg := range segments {
			var segVolumes []StepVolume
			for _, v := range volumes {
				if sv, ok := v.Segments[seg]; ok && sv.UniqueUsers > 0 {
					segVolumes = append(segVolumes, v)
				}
			}
			rates.Segments[seg] = transitions(segVolumes, func(v StepVolume) uint64 { return v.Segments[seg].UniqueUsers })
		}
	}
	return rates
}

func transitions(volumes []StepVolume, users func(StepVolume) uint64) []Transition {
	out := make([]Transition, 0, len(volumes))
	for i := 0; i+1 < len(volumes); i++ {
		from, to := users(volumes[i]), users(volumes[i+1])
		t := Transition{
			FromStep:  volumes[i].Step,
			ToStep:    volumes[i+1].Step,
			FromUsers: from,
			ToUsers:   to,
			Rate:      Percent(to, from),
		}
		if from > to {
			t.DropOff = from - to
		}
		out = append(out, t)
	}
	return out
}

// Percent returns num/den*100 rounded to two decimals and clamped to
// [0, 100]. A zero denominator yields 0.
func Percent(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return clampPercent(float64(num) / float64(den) * 100)
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		v = 100
	}
	return round2(v)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
