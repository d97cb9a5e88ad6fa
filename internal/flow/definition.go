package flow

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

//go:embed definitions.yaml
var embeddedDefinitions []byte

// Mode selects how a flow collects its text fields.
type Mode string

const (
	// ModeBulk collects every remaining text field from one message, one per line.
	ModeBulk Mode = "bulk"
	// ModeSequential collects one field per message.
	ModeSequential Mode = "sequential"
)

// Field describes one value collected by a flow.
type Field struct {
	Name     string        `yaml:"name"`
	Label    string        `yaml:"label"`
	Prompt   string        `yaml:"prompt"`
	Kind     validate.Kind `yaml:"kind"`
	Options  []string      `yaml:"options"`
	Optional bool          `yaml:"optional"`
	Group    string        `yaml:"group"`
	Smart    bool          `yaml:"smart"`
}

// Rules returns the validator parameters for the field.
func (f Field) Rules() validate.Rules {
	return validate.Rules{Label: f.Label, Options: f.Options, Smart: f.Smart}
}

// IsDocument reports whether the field takes a file upload.
func (f Field) IsDocument() bool {
	return f.Kind == validate.KindDocument
}

// Definition is the static description of one flow. It is never mutated after loading.
type Definition struct {
	Type                  models.FlowType `yaml:"type"`
	Mode                  Mode            `yaml:"mode"`
	Title                 string          `yaml:"title"`
	Welcome               string          `yaml:"welcome"`
	Completion            string          `yaml:"completion"`
	PreserveOnUnavailable bool            `yaml:"preserve_on_unavailable"`
	Fields                []Field         `yaml:"fields"`
}

// Groups maps grouped field names to their group, for FlowState.Nested.
func (d *Definition) Groups() map[string]string {
	groups := map[string]string{}
	for _, f := range d.Fields {
		if f.Group != "" {
			groups[f.Name] = f.Group
		}
	}
	return groups
}

// FieldNames returns the field names in definition order.
func (d *Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// bulkSegment returns the fields collected together starting at index i:
// every field up to the next document field in bulk mode, or just field i.
func (d *Definition) bulkSegment(i int) []Field {
	if d.Mode != ModeBulk || d.Fields[i].IsDocument() {
		return d.Fields[i : i+1]
	}
	end := i
	for end < len(d.Fields) && !d.Fields[end].IsDocument() {
		end++
	}
	return d.Fields[i:end]
}

func (d *Definition) validate(reg *validate.Registry) error {
	if !d.Type.IsValid() {
		return fmt.Errorf("unknown flow type %q", d.Type)
	}
	if d.Mode != ModeBulk && d.Mode != ModeSequential {
		return fmt.Errorf("flow %s: unknown mode %q", d.Type, d.Mode)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("flow %s: no fields", d.Type)
	}
	seen := map[string]bool{}
	sawOptional := false
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("flow %s: field %d has no name", d.Type, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("flow %s: duplicate field %q", d.Type, f.Name)
		}
		seen[f.Name] = true
		if !reg.Known(f.Kind) {
			return fmt.Errorf("flow %s: field %q has unknown kind %q", d.Type, f.Name, f.Kind)
		}
		if f.Kind == validate.KindEnum && len(f.Options) == 0 {
			return fmt.Errorf("flow %s: enum field %q has no options", d.Type, f.Name)
		}
		if f.Optional {
			if f.IsDocument() {
				return fmt.Errorf("flow %s: document field %q cannot be optional", d.Type, f.Name)
			}
			sawOptional = true
		} else if sawOptional {
			return fmt.Errorf("flow %s: required field %q follows an optional field", d.Type, f.Name)
		}
	}
	return nil
}

// Definitions is the loaded, validated set of flow definitions.
type Definitions map[models.FlowType]*Definition

// LoadDefinitions parses and validates flow definitions from YAML.
func LoadDefinitions(data []byte, reg *validate.Registry) (Definitions, error) {
	var doc struct {
		Flows []*Definition `yaml:"flows"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flow definitions: %w", err)
	}
	defs := Definitions{}
	for _, d := range doc.Flows {
		if err := d.validate(reg); err != nil {
			return nil, err
		}
		if _, dup := defs[d.Type]; dup {
			return nil, fmt.Errorf("flow %s defined twice", d.Type)
		}
		for i := range d.Fields {
			if d.Fields[i].Label == "" {
				d.Fields[i].Label = strings.ReplaceAll(d.Fields[i].Name, "_", " ")
			}
		}
		defs[d.Type] = d
	}
	return defs, nil
}

// DefaultDefinitions returns the built-in flow definitions.
func DefaultDefinitions(reg *validate.Registry) (Definitions, error) {
	return LoadDefinitions(embeddedDefinitions, reg)
}
