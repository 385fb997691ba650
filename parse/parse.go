// Package parse extracts and validates structured actions from raw model
// output.
//
// Model completions are free text that should contain exactly one JSON
// action object but frequently wrap it in prose, code fences, or multiple
// candidate objects. The parser scans for balanced-brace candidates and
// accepts the first one that decodes to a JSON object and passes the
// event's action schema.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tourneylab/tourney/sanitize"
)

// Matches JSON objects with at most one level of nesting, which covers every
// action shape the engines define. Deeper candidates are skipped.
var candidateRE = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

// Result is the outcome of parsing one completion. On failure Err holds a
// human-readable reason recorded verbatim in telemetry.
type Result struct {
	Success           bool
	Action            map[string]any
	RawJSON           string
	Err               string
	InjectionDetected bool
}

// ActionParser validates extracted actions against a compiled JSON schema.
// A parser is built once per event and shared across matches; Parse is safe
// for concurrent use.
type ActionParser struct {
	schema *jsonschema.Schema
}

// NewActionParser compiles the given JSON schema document.
func NewActionParser(schemaJSON []byte) (*ActionParser, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode action schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("action.json", doc); err != nil {
		return nil, fmt.Errorf("add action schema: %w", err)
	}
	schema, err := c.Compile("action.json")
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &ActionParser{schema: schema}, nil
}

// Parse scans text for candidate JSON objects and returns the first one that
// decodes to an object and validates against the schema. When every candidate
// fails, Err reports the reason for the last candidate tried. The injection
// flag is computed on the full text regardless of parse outcome.
func (p *ActionParser) Parse(text string) Result {
	res := Result{InjectionDetected: sanitize.DetectInjection(text)}

	candidates := candidateRE.FindAllString(text, -1)
	if len(candidates) == 0 {
		res.Err = "no JSON object found in output"
		return res
	}

	for _, cand := range candidates {
		var v any
		if err := json.Unmarshal([]byte(cand), &v); err != nil {
			res.Err = fmt.Sprintf("JSON parse error: %v", err)
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			res.Err = "JSON value is not an object"
			continue
		}
		if err := p.schema.Validate(v); err != nil {
			res.Err = fmt.Sprintf("schema validation: %v", err)
			continue
		}
		res.Success = true
		res.Action = obj
		res.RawJSON = cand
		res.Err = ""
		return res
	}
	return res
}
