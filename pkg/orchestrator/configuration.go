package orchestrator

import (
	"errors"
	"fmt"
)

// Configuration failures. Each aborts a run before any revision is touched.
var (
	ErrInvalidRepository = errors.New("invalid repository")
	ErrNoBenchmarkDir    = errors.New("benchmark directory not found")
	ErrNoBenchmarks      = errors.New("no benchmarks found")
	ErrEmptySelection    = errors.New("no benchmarks selected")
	ErrInvalidCount      = errors.New("revision count must be positive")
)

// ConfigurationError is returned when a run cannot start.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(sentinel error, format string, args ...any) error {
	if format == "" {
		return &ConfigurationError{Err: sentinel}
	}

	return &ConfigurationError{Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// InvalidRepository wraps a repository open failure as a ConfigurationError.
func InvalidRepository(path string, err error) error {
	return configErr(ErrInvalidRepository, "%s: %w", path, err)
}
