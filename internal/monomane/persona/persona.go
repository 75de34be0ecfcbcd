// Package persona loads the optional persona file that biases the generative
// backend's tone. The file is YAML, validated against an embedded JSON
// schema before use; a missing file simply means no preamble is injected.
package persona

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/oqilov/monomane/internal/monomane/history"
)

// Persona describes the role the account plays when generating replies.
// All fields are optional; empty fields are omitted from the preamble.
type Persona struct {
	Role           string `yaml:"role" json:"role"`
	Style          string `yaml:"style" json:"style"`
	ContextExample string `yaml:"context_example" json:"context_example"`
	Admin          string `yaml:"admin" json:"admin"`
}

const schemaJSON = `{
	"type": "object",
	"properties": {
		"role":            {"type": "string"},
		"style":           {"type": "string"},
		"context_example": {"type": "string"},
		"admin":           {"type": "string"}
	},
	"additionalProperties": false
}`

// Load reads and validates the persona file at path. A missing file returns
// (nil, nil): the caller runs without a persona. A present but invalid file
// is an error so a typo does not silently disable the persona.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a persona document.
func Parse(data []byte) (*Persona, error) {
	// Validate the raw document against the schema first so unknown keys are
	// reported by name instead of being silently dropped by struct decoding.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("persona: parse: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("persona.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("persona: schema: %w", err)
	}
	schema, err := compiler.Compile("persona.schema.json")
	if err != nil {
		return nil, fmt.Errorf("persona: schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("persona: invalid document: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona: parse: %w", err)
	}
	if p.isEmpty() {
		return nil, nil
	}
	return &p, nil
}

func (p *Persona) isEmpty() bool {
	return p.Role == "" && p.Style == "" && p.ContextExample == "" && p.Admin == ""
}

// Preamble renders the persona as the two synthetic turns prepended to every
// backend payload: an instruction turn and an acknowledgement turn. Returns
// nil when the receiver is nil.
func (p *Persona) Preamble() []history.Turn {
	if p == nil {
		return nil
	}

	var lines []string
	if p.Role != "" {
		lines = append(lines, "Your role: "+p.Role)
	}
	if p.Style != "" {
		lines = append(lines, "Your reply style: "+p.Style)
	}
	if p.ContextExample != "" {
		lines = append(lines, "Context/example: "+p.ContextExample)
	}
	if p.Admin != "" {
		lines = append(lines, "About the admin: "+p.Admin)
	}
	if len(lines) == 0 {
		return nil
	}

	instruction := "Your personality and instructions:\n" + strings.Join(lines, "\n")
	return []history.Turn{
		history.NewTurn(history.RoleUser, instruction),
		history.NewTurn(history.RoleModel, "Understood."),
	}
}
