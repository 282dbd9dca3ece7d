package domain

// FieldType names the input kind of a wizard field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldSelect  FieldType = "select"
	FieldSSN     FieldType = "ssn"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldEmail, FieldPhone, FieldNumber, FieldBoolean, FieldDate, FieldSelect, FieldSSN:
		return true
	}
	return false
}

// FieldDefinition describes a single input collected on a step.
type FieldDefinition struct {
	Name      string    `json:"name" yaml:"name"`
	Label     string    `json:"label" yaml:"label"`
	Type      FieldType `json:"type" yaml:"type"`
	Required  bool      `json:"required" yaml:"required"`
	Options   []string  `json:"options,omitempty" yaml:"options,omitempty"`
	MaxLength int       `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// StepDefinition is one named page of the intake wizard.
type StepDefinition struct {
	ID       string            `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Required bool              `json:"required" yaml:"required"`
	Fields   []FieldDefinition `json:"fields" yaml:"fields"`
}

// Clone returns a deep copy of the step.
func (s StepDefinition) Clone() StepDefinition {
	out := s
	out.Fields = make([]FieldDefinition, len(s.Fields))
	for i, f := range s.Fields {
		f.Options = append([]string(nil), f.Options...)
		out.Fields[i] = f
	}
	return out
}
