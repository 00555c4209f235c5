package detection

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid detector parameter found at construction.
type ConfigError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid detector config '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid detector config '%s': %s", e.Field, e.Reason)
}

// ModelFitError reports that a model could not be fitted or applied.
type ModelFitError struct {
	Model string
	Err   error
}

// Error implements the error interface
func (e *ModelFitError) Error() string {
	return fmt.Sprintf("%s model fit failed: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error
func (e *ModelFitError) Unwrap() error {
	return e.Err
}

// SeriesError reports a malformed bar series.
type SeriesError struct {
	Symbol string
	Index  int
	Reason string
}

// Error implements the error interface
func (e *SeriesError) Error() string {
	return fmt.Sprintf("invalid series %s at bar %d: %s", e.Symbol, e.Index, e.Reason)
}

var (
	// ErrNonFiniteFeature is wrapped in a ModelFitError when a feature column holds NaN or Inf.
	ErrNonFiniteFeature = errors.New("feature matrix contains non-finite values")
	// ErrNonFiniteLoss is wrapped in a ModelFitError when training diverges.
	ErrNonFiniteLoss = errors.New("training loss is not finite")
	// ErrNotTrained is wrapped in a ModelFitError when detection runs without a fitted network.
	ErrNotTrained = errors.New("model has not been trained")
)

func newConfigError(field, reason string, value interface{}) error {
	return &ConfigError{Field: field, Reason: reason, Value: value}
}
