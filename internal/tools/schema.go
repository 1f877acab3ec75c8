// Package tools holds the tool schema model, command synthesis, and output
// parsing shared by the on-disk Registry (internal/tools/registry) and the
// sandboxed Dispatcher (internal/tools/sandbox). Together these implement
// the Tool Registry & Dispatcher (component C).
package tools

import "fmt"

// ParamType enumerates the argument types a ToolSchema parameter may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeFile    ParamType = "file"
	TypeURL     ParamType = "url"
)

// OutputFormat declares how a tool's captured stdout should be parsed.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json" // JSONL: one JSON object per line
	OutputCSV  OutputFormat = "csv"
)

type (
	// Parameter describes one command-line argument a tool accepts.
	Parameter struct {
		Name     string    `yaml:"name"`
		Flag     string    `yaml:"flag"`
		Type     ParamType `yaml:"type"`
		Required bool      `yaml:"required,omitempty"`
		Default  any       `yaml:"default,omitempty"`
		Choices  []string  `yaml:"choices,omitempty"`
		Example  any       `yaml:"example,omitempty"`
	}

	// Schema is the structured, content-addressed description of a tool
	// persisted by the Registry and consumed by both command synthesis and
	// the LLM Guardrail Loop's argument validation.
	Schema struct {
		Name            string       `yaml:"name"`
		BinaryPath      string       `yaml:"binary_path"`
		Parameters      []Parameter  `yaml:"parameters"`
		UsageExamples   []string     `yaml:"usage_examples,omitempty"`
		Category        string       `yaml:"category"`
		OutputFormat    OutputFormat `yaml:"output_format"`
		RequiresRoot    bool         `yaml:"requires_root,omitempty"`
		DefaultTimeout  int          `yaml:"default_timeout"` // seconds
		Description     string       `yaml:"description,omitempty"`
	}
)

// Validate reports a structural problem with the schema itself (not an
// argument map against it) — used when loading from disk.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("tools: schema missing name")
	}
	if s.BinaryPath == "" {
		return fmt.Errorf("tools: schema %q missing binary_path", s.Name)
	}
	if s.DefaultTimeout <= 0 {
		return fmt.Errorf("tools: schema %q must declare a positive default_timeout", s.Name)
	}
	switch s.OutputFormat {
	case OutputText, OutputJSON, OutputCSV:
	default:
		return fmt.Errorf("tools: schema %q has unknown output_format %q", s.Name, s.OutputFormat)
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tools: schema %q has a parameter missing name", s.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tools: schema %q declares parameter %q twice", s.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Param looks up a declared parameter by name.
func (s *Schema) Param(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ValidateArguments checks that arguments satisfies every required
// parameter and that declared types/choices are honored, matching the
// Guardrail validation pipeline's BAD_ARGUMENTS step.
func (s *Schema) ValidateArguments(arguments map[string]any) error {
	for _, p := range s.Parameters {
		v, present := arguments[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("tools: missing required argument %q for tool %q", p.Name, s.Name)
			}
			continue
		}
		if len(p.Choices) > 0 {
			sv, ok := v.(string)
			if !ok || !contains(p.Choices, sv) {
				return fmt.Errorf("tools: argument %q for tool %q must be one of %v", p.Name, s.Name, p.Choices)
			}
		}
		if err := checkType(p, v); err != nil {
			return fmt.Errorf("tools: argument %q for tool %q: %w", p.Name, s.Name, err)
		}
	}
	return nil
}

func checkType(p Parameter, v any) error {
	switch p.Type {
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case TypeInteger:
		switch v.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeArray:
		switch v.(type) {
		case []string, []any:
		default:
			return fmt.Errorf("expected array, got %T", v)
		}
	case TypeString, TypeFile, TypeURL:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	}
	return nil
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
