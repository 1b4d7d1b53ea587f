package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// overridesSchema constrains the --catalog-file document: per-task chunk
// bound adjustments and a disabled switch, nothing else.
const overridesSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"tasks": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"min_chunk": {"type": "integer", "minimum": 1},
					"max_chunk": {"type": "integer", "minimum": 1},
					"disabled":  {"type": "boolean"}
				}
			}
		}
	}
}`

// TaskOverride adjusts one descriptor without rebuilding the catalog.
type TaskOverride struct {
	MinChunk *int  `json:"min_chunk,omitempty"`
	MaxChunk *int  `json:"max_chunk,omitempty"`
	Disabled *bool `json:"disabled,omitempty"`
}

// Overrides is the parsed --catalog-file document.
type Overrides struct {
	Tasks map[string]TaskOverride `json:"tasks"`
}

// LoadOverrides reads and schema-validates an overrides file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides validates the document against the embedded schema before
// decoding it.
func ParseOverrides(data []byte) (*Overrides, error) {
	schemaLoader := gojsonschema.NewStringLoader(overridesSchema)
	docLoader := gojsonschema.NewBytesLoader(data)
	res, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("validate catalog file: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("catalog file invalid: %s", strings.Join(msgs, "; "))
	}

	var ov Overrides
	if err := json.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	return &ov, nil
}

// Apply returns a new descriptor slice with the overrides folded in.
// Disabled tasks are dropped. Overriding an unknown task name is an error
// so typos fail loudly instead of silently running the default.
func (ov *Overrides) Apply(descriptors []Descriptor) ([]Descriptor, error) {
	if ov == nil || len(ov.Tasks) == 0 {
		return descriptors, nil
	}

	known := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		known[d.Name] = true
	}
	for name := range ov.Tasks {
		if !known[name] {
			return nil, fmt.Errorf("catalog file overrides unknown task %q", name)
		}
	}

	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		o, ok := ov.Tasks[d.Name]
		if !ok {
			out = append(out, d)
			continue
		}
		if o.Disabled != nil && *o.Disabled {
			continue
		}
		if o.MinChunk != nil {
			d.MinChunk = *o.MinChunk
		}
		if o.MaxChunk != nil {
			d.MaxChunk = *o.MaxChunk
		}
		if d.MinChunk < 1 || d.MaxChunk < d.MinChunk {
			return nil, fmt.Errorf("catalog file gives task %q invalid chunk bounds [%d, %d]", d.Name, d.MinChunk, d.MaxChunk)
		}
		out = append(out, d)
	}
	return out, nil
}
