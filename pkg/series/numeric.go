package series

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Value is the name used for a payload that is a bare number.
const Value = "value"

// Numeric flattens a payload into named numbers for plotting and tables.
// A bare number becomes {"value": n}; an object keeps its numeric fields,
// with nested objects joined by dots. Anything else yields nil.
func Numeric(payload json.RawMessage) map[string]float64 {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if dec.Decode(&v) != nil {
		return nil
	}

	out := map[string]float64{}

	switch typed := v.(type) {
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			out[Value] = f
		}
	case map[string]any:
		flatten("", typed, out)
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func flatten(prefix string, obj map[string]any, out map[string]float64) {
	for k, v := range obj {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}

		switch typed := v.(type) {
		case json.Number:
			if f, err := typed.Float64(); err == nil {
				out[name] = f
			}
		case map[string]any:
			flatten(name, typed, out)
		}
	}
}

// Metric is one plottable line: a value per revision, nil for gaps.
type Metric struct {
	Name   string
	Values []*float64
}

// Metrics returns the numeric lines of a benchmark, sorted by name. A
// revision whose point is a gap, or lacks the field, yields nil there.
func (r *RunResult) Metrics(benchmark string) []Metric {
	points := r.Series[benchmark]
	flat := make([]map[string]float64, len(points))
	names := map[string]struct{}{}

	for i, p := range points {
		if p.State != StateValue {
			continue
		}

		flat[i] = Numeric(p.Value)
		for name := range flat[i] {
			names[name] = struct{}{}
		}
	}

	metrics := make([]Metric, 0, len(names))

	for _, name := range slices.Sorted(maps.Keys(names)) {
		values := make([]*float64, len(points))

		for i := range points {
			if f, ok := flat[i][name]; ok {
				values[i] = &f
			}
		}

		metrics = append(metrics, Metric{Name: name, Values: values})
	}

	return metrics
}
