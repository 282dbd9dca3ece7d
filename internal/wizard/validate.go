package wizard

import (
	"fmt"
	"html"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/microcosm-cc/bluemonday"
)

// FieldError describes a single invalid or missing field.
type FieldError struct {
	Step    string `json:"step"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError is returned when a step (or the whole record) fails
// validation. It carries every problem found, in catalog order.
type ValidationError struct {
	Step   string       `json:"step,omitempty"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("step %q: %s", e.Step, e.Fields[0].Error())
	}
	return fmt.Sprintf("step %q: %d invalid fields", e.Step, len(e.Fields))
}

var (
	ssnPattern   = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	ssnDigits    = regexp.MustCompile(`^\d{9}$`)
	phoneDigits  = regexp.MustCompile(`\d`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s().-]+$`)

	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

func textSanitizer() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}

const maxSanitizePasses = 5

// sanitizeText strips markup and surrounding whitespace from user input.
// Entities are decoded before each pass so encoded tags are stripped too;
// the result is plain text that sanitizing would leave unchanged.
func sanitizeText(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	policy := textSanitizer()
	for i := 0; i < maxSanitizePasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(policy.Sanitize(html.UnescapeString(s))))
		if next == s {
			return s
		}
		s = next
	}
	return strings.TrimSpace(policy.Sanitize(s))
}

func finite(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("must be a finite number")
	}
	return nil
}

// coerce converts form-style input into the kind the field expects.
// Strings are sanitized; numeric and boolean fields accept their string
// spellings; blank strings become nil for non-text fields. Numbers must be
// finite, and nine bare SSN digits are rewritten as NNN-NN-NNNN.
func coerce(f domain.FieldDefinition, v any) (any, error) {
	v, err := domain.NormalizeValue(v)
	if err != nil {
		return nil, err
	}
	s, isString := v.(string)
	if isString {
		s = sanitizeText(s)
	}

	switch f.Type {
	case domain.FieldNumber:
		if isString {
			if s == "" {
				return nil, nil
			}
			n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			if err := finite(n); err != nil {
				return nil, err
			}
			return n, nil
		}
		if n, ok := v.(float64); ok {
			if err := finite(n); err != nil {
				return nil, err
			}
		}
	case domain.FieldBoolean:
		if isString {
			if s == "" {
				return nil, nil
			}
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("must be true or false")
			}
			return b, nil
		}
	case domain.FieldSSN:
		if isString && ssnDigits.MatchString(s) {
			return s[:3] + "-" + s[3:5] + "-" + s[5:], nil
		}
		if isString {
			return s, nil
		}
	default:
		if isString {
			return s, nil
		}
	}
	return v, nil
}

// checkValue validates a non-blank value against its field definition.
func checkValue(f domain.FieldDefinition, v any) string {
	switch f.Type {
	case domain.FieldNumber:
		n, ok := v.(float64)
		if !ok {
			return "must be a number"
		}
		if finite(n) != nil {
			return "must be a finite number"
		}
		return ""
	case domain.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return "must be true or false"
		}
		return ""
	}

	s, ok := v.(string)
	if !ok {
		return "must be text"
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		return fmt.Sprintf("must be at most %d characters", f.MaxLength)
	}

	switch f.Type {
	case domain.FieldEmail:
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return "must be a valid email address"
		}
	case domain.FieldPhone:
		n := len(phoneDigits.FindAllString(s, -1))
		if !phonePattern.MatchString(s) || n < 10 || n > 15 {
			return "must be a valid phone number"
		}
	case domain.FieldDate:
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return "must be a date in YYYY-MM-DD format"
		}
	case domain.FieldSelect:
		for _, opt := range f.Options {
			if s == opt {
				return ""
			}
		}
		return "must be one of: " + strings.Join(f.Options, ", ")
	case domain.FieldSSN:
		if !ssnPattern.MatchString(s) {
			return "must be a valid SSN (NNN-NN-NNNN)"
		}
	}
	return ""
}

// validateStep returns every problem on step, honouring the step's
// required flag. Optional steps still type-check the values they hold.
func validateStep(step domain.StepDefinition, record domain.IntakeRecord) []FieldError {
	var problems []FieldError
	for _, f := range step.Fields {
		if record.IsBlank(f.Name) {
			if step.Required && f.Required {
				problems = append(problems, FieldError{Step: step.ID, Field: f.Name, Message: f.Label + " is required"})
			}
			continue
		}
		v := record[f.Name]
		if msg := checkValue(f, v); msg != "" {
			problems = append(problems, FieldError{Step: step.ID, Field: f.Name, Message: msg})
			continue
		}
		if step.Required && f.Required && f.Type == domain.FieldBoolean && v != true {
			problems = append(problems, FieldError{Step: step.ID, Field: f.Name, Message: f.Label + " must be accepted"})
		}
	}
	return problems
}
