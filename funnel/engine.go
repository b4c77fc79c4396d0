package funnel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// nextStepHint is how many following steps a TrackResult suggests.
const nextStepHint = 2

var timeRanges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// DefaultTimeRange is used when AnalyzeOptions.TimeRange is empty.
const DefaultTimeRange = "30d"

// ParseTimeRange returns the lookback for one of 7d, 30d, 90d or 1y.
func ParseTimeRange(s string) (time.Duration, error) {
	if s == "" {
		s = DefaultTimeRange
	}
	d, ok := timeRanges[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	return d, nil
}

// Engine tracks funnel events and analyses them. It holds no mutable state
// of its own; everything is read from the EventStore per call.
type Engine struct {
	registry  *Registry
	store     EventStore
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithPublisher(p EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(reg *Registry, store EventStore, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

type TrackRequest struct {
	UserID    string
	Step      string
	SessionID string
	Metadata  Metadata
}

// TrackResult describes a recorded event. ConversionComplete is only
// meaningful when ConversionUnknown is false: if the store could not be asked
// whether the user already reached the primary goal, the event is still
// recorded and ConversionUnknown is set.
type TrackResult struct {
	Tracked            bool     `json:"tracked"`
	EventID            string   `json:"eventId"`
	Step               string   `json:"step"`
	StepOrder          int      `json:"stepOrder"`
	GoalType           GoalType `json:"goalType,omitempty"`
	ConversionComplete bool     `json:"conversionComplete"`
	ConversionUnknown  bool     `json:"conversionUnknown,omitempty"`
	NextSteps          []string `json:"nextSteps"`
}

// Track validates and appends one event. Nothing is written when validation
// fails.
func (e *Engine) Track(ctx context.Context, req TrackRequest) (*TrackResult, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.Step == "" {
		return nil, ErrMissingStep
	}
	def, ok := e.registry.Step(req.Step)
	if !ok {
		return nil, &InvalidStepError{Step: req.Step}
	}
	if err := req.Metadata.Validate(); err != nil {
		return nil, err
	}

	evt := Event{
		EventID:   e.newID(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Step:      def.ID,
		StepOrder: def.Order,
		Category:  def.Category,
		Timestamp: e.now(),
		Metadata:  req.Metadata,
	}
	if err := e.store.Insert(ctx, evt); err != nil {
		return nil, fmt.Errorf("failed to record funnel event: %w", err)
	}

	if e.publisher != nil {
		if err := e.publisher.PublishEvent(ctx, evt); err != nil {
			e.logger.Warn("Failed to publish funnel event",
				zap.String("event_id", evt.EventID), zap.String("step", evt.Step), zap.Error(err))
		}
	}

	result := &TrackResult{
		Tracked:   true,
		EventID:   evt.EventID,
		Step:      def.ID,
		StepOrder: def.Order,
		GoalType:  def.Goal,
		NextSteps: e.registry.NextSteps(def.ID, nextStepHint),
	}

	goal := e.registry.PrimaryGoal()
	if def.ID == goal {
		result.ConversionComplete = true
	} else {
		n, err := e.store.DistinctCount(ctx, DistinctQuery{Step: goal, UserID: req.UserID})
		if err != nil {
			e.logger.Warn("Failed to check conversion status", zap.String("user_id", req.UserID), zap.Error(err))
			result.ConversionUnknown = true
		} else {
			result.ConversionComplete = n > 0
		}
	}

	e.logger.Debug("Tracked funnel event",
		zap.String("event_id", evt.EventID),
		zap.String("user_id", evt.UserID),
		zap.String("step", evt.Step),
		zap.Bool("conversion_complete", result.ConversionComplete))
	return result, nil
}

type AnalyzeOptions struct {
	TimeRange    string
	Segmentation string
	CohortPeriod string
}

type FunnelSection struct {
	Steps             []StepVolume    `json:"steps"`
	ConversionRates   ConversionRates `json:"conversionRates"`
	OverallConversion float64         `json:"overallConversion"`
}

type ReportMetadata struct {
	TimeRange    string       `json:"timeRange"`
	StartDate    time.Time    `json:"startDate"`
	EndDate      time.Time    `json:"endDate"`
	Segmentation string       `json:"segmentation,omitempty"`
	CohortPeriod CohortPeriod `json:"cohortPeriod"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Unavailable  []string     `json:"unavailable,omitempty"`
}

// FunnelReport is the full analysis. Funnel, Cohorts and Journeys are nil
// when that analysis could not be computed; Metadata.Unavailable says why.
type FunnelReport struct {
	Funnel        *FunnelSection   `json:"funnel"`
	DropOffs      []DropOff        `json:"dropOffs"`
	Cohorts       *CohortReport    `json:"cohorts"`
	Journeys      *JourneyReport   `json:"journeys"`
	Optimizations []Recommendation `json:"optimizations"`
	Metadata      ReportMetadata   `json:"metadata"`
}

// AnalysisError is returned when every analysis of a report failed.
type AnalysisError struct {
	Failures []string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("funnel analysis unavailable: %v", e.Failures)
}

// AnalyzeFunnel runs the funnel, cohort and journey analyses in parallel over
// the requested window. A failing analysis leaves its section nil and does
// not stop the others.
func (e *Engine) AnalyzeFunnel(ctx context.Context, opts AnalyzeOptions) (*FunnelReport, error) {
	lookback, err := ParseTimeRange(opts.TimeRange)
	if err != nil {
		return nil, err
	}
	period, err := ParseCohortPeriod(opts.CohortPeriod)
	if err != nil {
		return nil, err
	}
	timeRange := opts.TimeRange
	if timeRange == "" {
		timeRange = DefaultTimeRange
	}

	now := e.now()
	window := Window{Start: now.Add(-lookback), End: now}

	report := &FunnelReport{
		DropOffs:      make([]DropOff, 0),
		Optimizations: make([]Recommendation, 0),
		Metadata: ReportMetadata{
			TimeRange:    timeRange,
			StartDate:    window.Start,
			EndDate:      window.End,
			Segmentation: opts.Segmentation,
			CohortPeriod: period,
			GeneratedAt:  now,
		},
	}

	var (
		mu       sync.Mutex
		failures []string
	)
	fail := func(section string, err error) {
		e.logger.Warn("Funnel analysis section unavailable", zap.String("section", section), zap.Error(err))
		mu.Lock()
		failures = append(failures, section+": "+err.Error())
		mu.Unlock()
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		section, err := safely(func() (*FunnelSection, error) { return e.funnelSection(egCtx, window, opts.Segmentation) })
		if err != nil {
			fail("funnel", err)
			return nil
		}
		report.Funnel = section
		return nil
	})

	eg.Go(func() error {
		cohorts, err := safely(func() (*CohortReport, error) {
			events, err := e.store.RangeScan(egCtx, RangeQuery{Window: window})
			if err != nil {
				return nil, fmt.Errorf("failed to scan events for cohorts: %w", err)
			}
			r := AnalyzeCohorts(e.registry, events, period)
			return &r, nil
		})
		if err != nil {
			fail("cohorts", err)
			return nil
		}
		report.Cohorts = cohorts
		return nil
	})

	eg.Go(func() error {
		journeys, err := safely(func() (*JourneyReport, error) {
			events, err := e.store.RangeScan(egCtx, RangeQuery{Window: window})
			if err != nil {
				return nil, fmt.Errorf("failed to scan events for journeys: %w", err)
			}
			r := AnalyzeJourneys(e.registry, events)
			return &r, nil
		})
		if err != nil {
			fail("journeys", err)
			return nil
		}
		report.Journeys = journeys
		return nil
	})

	_ = eg.Wait()

	if len(failures) > 0 {
		sort.Strings(failures)
		report.Metadata.Unavailable = failures
		if len(failures) == 3 {
			return nil, &AnalysisError{Failures: failures}
		}
	}

	if report.Funnel != nil {
		report.DropOffs = AnalyzeDropOffs(report.Funnel.ConversionRates)
	}
	report.Optimizations = SynthesizeRecommendations(report.DropOffs, report.Journeys, report.Cohorts)
	return report, nil
}

func (e *Engine) funnelSection(ctx context.Context, window Window, segmentBy string) (*FunnelSection, error) {
	counts, err := e.store.GroupCount(ctx, GroupQuery{Window: window})
	if err != nil {
		return nil, fmt.Errorf("failed to count step volumes: %w", err)
	}
	var segCounts []GroupCount
	if segmentBy != "" {
		segCounts, err = e.store.GroupCount(ctx, GroupQuery{Window: window, SegmentBy: segmentBy})
		if err != nil {
			return nil, fmt.Errorf("failed to count step volumes by %s: %w", segmentBy, err)
		}
	}
	volumes, err := VolumesFromCounts(e.registry, counts, segCounts)
	if err != nil {
		return nil, err
	}
	rates := ComputeConversionRates(e.registry, volumes)
	return &FunnelSection{
		Steps:             volumes,
		ConversionRates:   rates,
		OverallConversion: rates.Overall.Rate,
	}, nil
}

// MapUserJourney returns one user's full journey with its metrics,
// bottlenecks and recommendations.
func (e *Engine) MapUserJourney(ctx context.Context, userID string) (*UserJourney, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	events, err := e.store.EventsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey for user %s: %w", userID, err)
	}
	if len(events) == 0 {
		return nil, ErrNoJourney
	}
	uj := MapJourney(e.registry, userID, events)
	return &uj, nil
}

// safely runs fn and turns a panic into an error.
func safely[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	return fn()
}
