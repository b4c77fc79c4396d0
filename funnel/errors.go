package funnel

import (
	"errors"
	"fmt"
)

// InvalidStepError is returned when a step name is not part of the registry.
type InvalidStepError struct {
	Step string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid funnel step %q", e.Step)
}

var (
	ErrMissingUserID       = errors.New("userId is required")
	ErrMissingStep         = errors.New("step is required")
	ErrInvalidMetadata     = errors.New("metadata values must be scalars")
	ErrInvalidTimeRange    = errors.New("timeRange must be one of 7d, 30d, 90d, 1y")
	ErrInvalidCohortPeriod = errors.New("cohortPeriod must be weekly or monthly")
	ErrNoJourney           = errors.New("no events recorded for user")
	ErrInvalidRegistry     = errors.New("invalid funnel registry")
)

// IsInvalidStep reports whether err wraps an *InvalidStepError.
func IsInvalidStep(err error) bool {
	var stepErr *InvalidStepError
	return errors.As(err, &stepErr)
}
