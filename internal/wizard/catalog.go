// Package wizard implements the multi-step client intake form: the step
// catalog and the controller that walks an applicant through it.
package wizard

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/intake-portal/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed steps.yaml
var defaultSteps []byte

// ErrInvalidCatalog is returned when a step catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid step catalog")

// Catalog is an ordered, immutable list of wizard steps.
type Catalog struct {
	steps  []domain.StepDefinition
	fields map[string]fieldRef
}

type fieldRef struct {
	step  int
	field domain.FieldDefinition
}

type catalogFile struct {
	Steps []domain.StepDefinition `json:"steps" yaml:"steps"`
}

// DefaultCatalog returns the built-in tax-intake catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultSteps)
	if err != nil {
		panic("wizard: built-in catalog is invalid: " + err.Error())
	}
	return c
}

// LoadCatalogFile reads a catalog from a YAML or JSON file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := LoadCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// LoadCatalog parses a YAML or JSON catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidCatalog)
	}

	var doc catalogFile
	if err := json.Unmarshal(data, &doc); err != nil {
		if yerr := yaml.Unmarshal(data, &doc); yerr != nil {
			return nil, fmt.Errorf("%w: invalid JSON or YAML: %v", ErrInvalidCatalog, yerr)
		}
	}
	return NewCatalog(doc.Steps)
}

// NewCatalog validates steps and builds a catalog from them.
func NewCatalog(steps []domain.StepDefinition) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps defined", ErrInvalidCatalog)
	}

	c := &Catalog{
		steps:  make([]domain.StepDefinition, 0, len(steps)),
		fields: make(map[string]fieldRef),
	}
	stepIDs := make(map[string]struct{}, len(steps))

	for i, raw := range steps {
		step := raw.Clone()
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" {
			return nil, fmt.Errorf("%w: step %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := stepIDs[step.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidCatalog, step.ID)
		}
		stepIDs[step.ID] = struct{}{}
		if step.Title == "" {
			step.Title = step.ID
		}

		for j, f := range step.Fields {
			f.Name = strings.TrimSpace(f.Name)
			if f.Name == "" {
				return nil, fmt.Errorf("%w: step %q field %d has no name", ErrInvalidCatalog, step.ID, j)
			}
			if f.Type == "" {
				f.Type = domain.FieldText
			}
			if !f.Type.Valid() {
				return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidCatalog, f.Name, f.Type)
			}
			if f.Type == domain.FieldSelect && len(f.Options) == 0 {
				return nil, fmt.Errorf("%w: select field %q has no options", ErrInvalidCatalog, f.Name)
			}
			if f.MaxLength < 0 {
				return nil, fmt.Errorf("%w: field %q has negative max_length", ErrInvalidCatalog, f.Name)
			}
			if prev, dup := c.fields[f.Name]; dup {
				return nil, fmt.Errorf("%w: field %q defined on steps %q and %q",
					ErrInvalidCatalog, f.Name, c.steps[prev.step].ID, step.ID)
			}
			if f.Label == "" {
				f.Label = f.Name
			}
			step.Fields[j] = f
			c.fields[f.Name] = fieldRef{step: i, field: f}
		}
		c.steps = append(c.steps, step)
	}
	return c, nil
}

// Len returns the number of steps.
func (c *Catalog) Len() int { return len(c.steps) }

// Steps returns a copy of the ordered step definitions.
func (c *Catalog) Steps() []domain.StepDefinition {
	out := make([]domain.StepDefinition, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Clone()
	}
	return out
}

// Step returns a copy of the step at index i.
func (c *Catalog) Step(i int) domain.StepDefinition {
	return c.steps[i].Clone()
}

// IndexOf returns the position of the step with the given ID, or -1.
func (c *Catalog) IndexOf(id string) int {
	for i, s := range c.steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Field looks up a field definition by name.
func (c *Catalog) Field(name string) (domain.FieldDefinition, int, bool) {
	ref, ok := c.fields[name]
	if !ok {
		return domain.FieldDefinition{}, -1, false
	}
	f := ref.field
	f.Options = append([]string(nil), f.Options...)
	return f, ref.step, true
}
