package funnel

import "sort"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DropOffThreshold is the conversion rate below which a transition is reported.
const DropOffThreshold = 50.0

type DropOff struct {
	FromStep        string   `json:"fromStep"`
	ToStep          string   `json:"toStep"`
	ConversionRate  float64  `json:"conversionRate"`
	DropOffRate     float64  `json:"dropOffRate"`
	UsersLost       uint64   `json:"usersLost"`
	Severity        Severity `json:"severity"`
	Recommendations []string `json:"recommendations"`
}

// ClassifySeverity maps a conversion rate onto a severity band.
func ClassifySeverity(rate float64) Severity {
	switch {
	case rate < 10:
		return SeverityCritical
	case rate < 25:
		return SeverityHigh
	case rate < DropOffThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type transitionKey struct{ from, to string }

var transitionRules = map[transitionKey][]string{
	{"homepage_view", "model_browse"}: {
		"Feature best-selling models above the fold on the homepage",
		"Add a clear 'Browse Models' call to action in the hero section",
	},
	{"model_view", "estimator_start"}: {
		"Place the cost estimator entry point directly on model detail pages",
		"Show a starting price range next to each model to invite an estimate",
		"Add financing examples to reduce sticker shock before estimating",
	},
	{"estimator_start", "estimator_complete"}: {
		"Shorten the estimator to the fewest required fields",
		"Save estimator progress so visitors can resume later",
	},
	{"build_started", "customization_complete"}: {
		"Offer preset packages to shorten the customization flow",
		"Show a live price summary while options are selected",
		"Add a save-and-email-my-build option",
	},
	{"customization_complete", "quote_requested"}: {
		"Pre-fill the quote form with the completed build",
		"Promise a response time on the quote request form",
	},
	{"review_complete", "payment_initiated"}: {
		"Display deposit amount, refund policy and delivery timeline on the review page",
		"Add trust badges and customer testimonials near the payment button",
		"Offer multiple deposit and financing options",
	},
	{"payment_initiated", "order_confirmed"}: {
		"Audit payment provider errors and retry flows",
		"Send a recovery email when a payment is started but not completed",
	},
}

var genericRecommendations = []string{
	"Run an A/B test on the page layout and call to action for this step",
	"Capture exit intent with an offer or a save-for-later prompt",
}

// RecommendationsFor returns the rule-table advice for a transition, plus
// generic advice when the rate is below 25%.
func RecommendationsFor(from, to string, rate float64) []string {
	recs := append([]string{}, transitionRules[transitionKey{from, to}]...)
	if rate < 25 {
		recs = append(recs, genericRecommendations...)
	}
	return recs
}

// exactRate is the unrounded rate of t. Thresholds and severity bands are
// applied to it so that a rate displayed as 10.00 can still be critical.
func exactRate(t Transition) float64 {
	if t.FromUsers == 0 {
		return t.Rate
	}
	r := float64(t.ToUsers) / float64(t.FromUsers) * 100
	if r > 100 {
		return 100
	}
	return r
}

// AnalyzeDropOffs reports every transition converting below 50%, worst first.
func AnalyzeDropOffs(rates ConversionRates) []DropOff {
	dropOffs := make([]DropOff, 0)
	for _, t := range rates.Transitions {
		rate := exactRate(t)
		if rate >= DropOffThreshold {
			continue
		}
		dropOffs = append(dropOffs, DropOff{
			FromStep:        t.FromStep,
			ToStep:          t.ToStep,
			ConversionRate:  t.Rate,
			DropOffRate:     round2(100 - rate),
			UsersLost:       t.DropOff,
			Severity:        ClassifySeverity(rate),
			Recommendations: RecommendationsFor(t.FromStep, t.ToStep, rate),
		})
	}
	sort.SliceStable(dropOffs, func(i, j int) bool { return dropOffs[i].DropOffRate > dropOffs[j].DropOffRate })
	return dropOffs
}
