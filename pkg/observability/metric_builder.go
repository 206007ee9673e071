package observability

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// instruments creates instruments on one meter and collects creation
// failures, checked once with err after the whole set is built.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) note(name string, err error) {
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("create %s: %w", name, err))
	}
}

func (in *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	in.note(name, err)

	return c
}

func (in *instruments) gauge(name, desc, unit string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	in.note(name, err)

	return g
}

// seconds is a duration histogram bucketed by durationBucketBoundaries.
func (in *instruments) seconds(name, desc string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...))
	in.note(name, err)

	return h
}

func (in *instruments) err() error {
	return errors.Join(in.errs...)
}
