// Package taxonomy maps violation kinds to severities and builds violations.
package taxonomy

import (
	"fmt"

	"github.com/dshills/cardcheck/internal/schema"
)

// severities is the fixed kind-to-severity table. MISSING_FIELD is resolved by
// SeverityFor because it depends on required-set membership.
var severities = map[schema.Kind]schema.Severity{
	schema.KindInvalidType:        schema.SeverityCritical,
	schema.KindInvalidValue:       schema.SeverityCritical,
	schema.KindMissingNestedField: schema.SeverityWarning,
	schema.KindInvalidNestedType:  schema.SeverityWarning,
}

// SeverityFor returns the severity of a violation of kind k. required reports
// whether the violated field is in the registry's required top-level set; it
// only matters for MISSING_FIELD. Unlisted kinds are info.
func SeverityFor(k schema.Kind, required bool) schema.Severity {
	if k == schema.KindMissingField {
		if required {
			return schema.SeverityCritical
		}
		return schema.SeverityWarning
	}
	if s, ok := severities[k]; ok {
		return s
	}
	return schema.SeverityInfo
}

// Option adjusts a violation under construction.
type Option func(*schema.Violation)

// WithSeverity overrides the derived severity. Only kinds without a fixed
// table entry may be overridden; critical severities are never downgraded.
func WithSeverity(s schema.Severity) Option {
	return func(v *schema.Violation) {
		if _, fixed := severities[v.Kind]; fixed || v.Kind == schema.KindMissingField {
			return
		}
		v.Severity = s
	}
}

// WithMessage replaces the generated message.
func WithMessage(msg string) Option {
	return func(v *schema.Violation) { v.Message = msg }
}

// New builds a violation on field. The severity is derived from k and whether
// field is a required top-level field of reg.
func New(reg schema.Registry, k schema.Kind, field, expected, actual string, opts ...Option) schema.Violation {
	v := schema.Violation{
		Kind:     k,
		Field:    field,
		Expected: expected,
		Actual:   actual,
		Severity: SeverityFor(k, reg.IsRequired(field)),
	}
	v.Message = defaultMessage(v)
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

func defaultMessage(v schema.Violation) string {
	switch v.Kind {
	case schema.KindMissingField:
		return fmt.Sprintf("missing field %q", v.Field)
	case schema.KindMissingNestedField:
		return fmt.Sprintf("missing nested field %q", v.Field)
	case schema.KindInvalidType, schema.KindInvalidNestedType:
		return fmt.Sprintf("%s: expected %s, got %s", v.Field, v.Expected, v.Actual)
	case schema.KindInvalidValue:
		return fmt.Sprintf("%s: invalid value %s (expected %s)", v.Field, v.Actual, v.Expected)
	default:
		return fmt.Sprintf("%s: %s", v.Field, v.Expected)
	}
}
