package funnel

import (
	"fmt"
	"math"
	"sort"
)

// Category groups funnel steps into the stages of the buying process.
type Category string

const (
	CategoryAwareness     Category = "awareness"
	CategoryInterest      Category = "interest"
	CategoryConsideration Category = "consideration"
	CategoryIntent        Category = "intent"
	CategoryAction        Category = "action"
	CategoryConversion    Category = "conversion"
)

func (c Category) valid() bool {
	switch c {
	case CategoryAwareness, CategoryInterest, CategoryConsideration, CategoryIntent, CategoryAction, CategoryConversion:
		return true
	}
	return false
}

// GoalType marks a step as a conversion goal.
type GoalType string

const (
	GoalNone      GoalType = ""
	GoalPrimary   GoalType = "primary"
	GoalSecondary GoalType = "secondary"
	GoalMicro     GoalType = "micro"
)

// MaxStepOrder is the largest order a step may have; event stores persist the
// order as an unsigned 16-bit column.
const MaxStepOrder = math.MaxUint16

// StepDefinition is one entry of the funnel catalog.
type StepDefinition struct {
	ID          string   `json:"stepId"`
	Order       int      `json:"order"`
	Category    Category `json:"category"`
	DisplayName string   `json:"displayName"`
	Goal        GoalType `json:"goal,omitempty"`
}

// Goals designates which steps count as conversions.
type Goals struct {
	Primary   string
	Secondary []string
	Micro     []string
}

// Registry is the immutable, canonically ordered step catalog.
// It is safe for concurrent use since nothing mutates it after NewRegistry.
type Registry struct {
	steps []StepDefinition
	index map[string]int
	goals Goals
}

// NewRegistry validates the catalog and builds a Registry. Orders must be
// unique and within 1..MaxStepOrder, and exactly one primary goal must reference a known step.
func NewRegistry(steps []StepDefinition, goals Goals) (*Registry, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps defined", ErrInvalidRegistry)
	}

	sorted := make([]StepDefinition, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	index := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step at order %d has no id", ErrInvalidRegistry, s.Order)
		}
		if s.Order < 1 || s.Order > MaxStepOrder {
			return nil, fmt.Errorf("%w: step %q has order %d, want 1..%d", ErrInvalidRegistry, s.ID, s.Order, MaxStepOrder)
		}
		if !s.Category.valid() {
			return nil, fmt.Errorf("%w: step %q has unknown category %q", ErrInvalidRegistry, s.ID, s.Category)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidRegistry, s.ID)
		}
		if i > 0 && sorted[i-1].Order == s.Order {
			return nil, fmt.Errorf("%w: steps %q and %q share order %d", ErrInvalidRegistry, sorted[i-1].ID, s.ID, s.Order)
		}
		index[s.ID] = i
		sorted[i].Goal = GoalNone
	}

	if goals.Primary == "" {
		return nil, fmt.Errorf("%w: exactly one primary goal is required", ErrInvalidRegistry)
	}
	mark := func(ids []string, g GoalType) error {
		for _, id := range ids {
			i, ok := index[id]
			if !ok {
				return fmt.Errorf("%w: %s goal %q is not a step", ErrInvalidRegistry, g, id)
			}
			if sorted[i].Goal != GoalNone {
				return fmt.Errorf("%w: step %q is already a %s goal", ErrInvalidRegistry, id, sorted[i].Goal)
			}
			sorted[i].Goal = g
		}
		return nil
	}
	if err := mark([]string{goals.Primary}, GoalPrimary); err != nil {
		return nil, err
	}
	if err := mark(goals.Secondary, GoalSecondary); err != nil {
		return nil, err
	}
	if err := mark(goals.Micro, GoalMicro); err != nil {
		return nil, err
	}

	return &Registry{
		steps: sorted,
		index: index,
		goals: Goals{
			Primary:   goals.Primary,
			Secondary: append([]string(nil), goals.Secondary...),
			Micro:     append([]string(nil), goals.Micro...),
		},
	}, nil
}

// DefaultSteps is the dealership's funnel from first visit to a confirmed order.
func DefaultSteps() []StepDefinition {
	return []StepDefinition{
		{ID: "homepage_view", Order: 1, Category: CategoryAwareness, DisplayName: "Homepage View"},
		{ID: "model_browse", Order: 2, Category: CategoryInterest, DisplayName: "Browse Models"},
		{ID: "model_view", Order: 3, Category: CategoryInterest, DisplayName: "Model Detail View"},
		{ID: "estimator_start", Order: 4, Category: CategoryConsideration, DisplayName: "Cost Estimator Started"},
		{ID: "estimator_complete", Order: 5, Category: CategoryConsideration, DisplayName: "Cost Estimator Completed"},
		{ID: "build_started", Order: 6, Category: CategoryConsideration, DisplayName: "Build Configurator Started"},
		{ID: "customization_complete", Order: 7, Category: CategoryIntent, DisplayName: "Customization Complete"},
		{ID: "quote_requested", Order: 8, Category: CategoryIntent, DisplayName: "Quote Requested"},
		{ID: "consultation_booked", Order: 9, Category: CategoryIntent, DisplayName: "Consultation Booked"},
		{ID: "review_complete", Order: 10, Category: CategoryAction, DisplayName: "Order Review Complete"},
		{ID: "payment_initiated", Order: 11, Category: CategoryAction, DisplayName: "Payment Initiated"},
		{ID: "order_confirmed", Order: 12, Category: CategoryConversion, DisplayName: "Order Confirmed"},
	}
}

// DefaultGoals pairs with DefaultSteps.
func DefaultGoals() Goals {
	return Goals{
		Primary:   "order_confirmed",
		Secondary: []string{"quote_requested", "consultation_booked"},
		Micro:     []string{"estimator_complete", "customization_complete"},
	}
}

// DefaultRegistry builds the registry from DefaultSteps and DefaultGoals.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSteps(), DefaultGoals())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) IsValidStep(step string) bool {
	_, ok := r.index[step]
	return ok
}

// StepOrder returns the canonical order of step.
func (r *Registry) StepOrder(step string) (int, error) {
	i, ok := r.index[step]
	if !ok {
		return 0, &InvalidStepError{Step: step}
	}
	return r.steps[i].Order, nil
}

// Rank is the 1-based position of step in the catalog, or 0 if unknown.
// Unlike Order it is always dense, so gaps between ranks mean skipped steps.
func (r *Registry) Rank(step string) int {
	i, ok := r.index[step]
	if !ok {
		return 0
	}
	return i + 1
}

func (r *Registry) Step(step string) (StepDefinition, bool) {
	i, ok := r.index[step]
	if !ok {
		return StepDefinition{}, false
	}
	return r.steps[i], true
}

// Steps returns a copy of the catalog in canonical order.
func (r *Registry) Steps() []StepDefinition {
	out := make([]StepDefinition, len(r.steps))
	copy(out, r.steps)
	return out
}

func (r *Registry) PrimaryGoal() string { return r.goals.Primary }

func (r *Registry) Goals() Goals {
	return Goals{
		Primary:   r.goals.Primary,
		Secondary: append([]string(nil), r.goals.Secondary...),
		Micro:     append([]string(nil), r.goals.Micro...),
	}
}

func (r *Registry) GoalType(step string) GoalType {
	if i, ok := r.index[step]; ok {
		return r.steps[i].Goal
	}
	return GoalNone
}

// FirstStep is the top of the funnel.
func (r *Registry) FirstStep() StepDefinition { return r.steps[0] }

// NextSteps returns up to n steps that follow step in canonical order.
func (r *Registry) NextSteps(step string, n int) []string {
	i, ok := r.index[step]
	if !ok || n <= 0 {
		return []string{}
	}
	next := make([]string, 0, n)
	for j := i + 1; j < len(r.steps) && len(next) < n; j++ {
		next = append(next, r.steps[j].ID)
	}
	return next
}
