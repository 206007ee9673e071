package resultcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const entrySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["revision", "benchmark", "status", "recorded_at"],
  "properties": {
    "revision":    {"type": "string", "minLength": 1},
    "benchmark":   {"type": "string", "minLength": 1},
    "status":      {"enum": ["ok", "failed"]},
    "run_id":      {"type": "string"},
    "recorded_at": {"type": "string"},
    "duration_ns": {"type": "integer", "minimum": 0},
    "failure": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind":      {"type": "string", "minLength": 1},
        "message":   {"type": "string"},
        "exit_code": {"type": "integer"},
        "signal":    {"type": "string"},
        "tail":      {"type": "string"}
      }
    }
  },
  "allOf": [
    {
      "if":   {"properties": {"status": {"const": "ok"}}},
      "then": {"required": ["result"]}
    },
    {
      "if":   {"properties": {"status": {"const": "failed"}}},
      "then": {"required": ["failure"]}
    }
  ]
}`

// Problem is one finding of Verify.
type Problem struct {
	Key     Key
	Message string
}

func (p Problem) String() string {
	return p.Key.String() + ": " + p.Message
}

// Verify reads every entry and checks it against the entry schema and its
// own key. It never modifies the store.
func Verify(ctx context.Context, store Store) ([]Problem, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(entrySchema))
	if err != nil {
		return nil, fmt.Errorf("compile entry schema: %w", err)
	}

	keys, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem

	for _, key := range keys {
		entry, readErr := store.Read(ctx, key)
		if readErr != nil {
			problems = append(problems, Problem{Key: key, Message: readErr.Error()})

			continue
		}

		problems = append(problems, check(schema, key, entry)...)
	}

	return problems, nil
}

func check(schema *gojsonschema.Schema, key Key, entry *Entry) []Problem {
	if entry.Failure != nil && entry.Failure.Kind == FailureCorrupt {
		return []Problem{{Key: key, Message: "undecodable: " + entry.Failure.Message}}
	}

	var problems []Problem

	if entry.Key() != key {
		problems = append(problems, Problem{
			Key:     key,
			Message: fmt.Sprintf("entry names %s", entry.Key()),
		})
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		return append(problems, Problem{Key: key, Message: err.Error()})
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return append(problems, Problem{Key: key, Message: err.Error()})
	}

	for _, resultErr := range result.Errors() {
		problems = append(problems, Problem{Key: key, Message: resultErr.String()})
	}

	if entry.OK() && !json.Valid(entry.Result) {
		problems = append(problems, Problem{Key: key, Message: "result is not valid JSON"})
	}

	return problems
}
