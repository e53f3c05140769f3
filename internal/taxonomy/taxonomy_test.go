package taxonomy

import (
	"strings"
	"testing"

	"github.com/dshills/cardcheck/internal/schema"
)

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		kind     schema.Kind
		required bool
		want     schema.Severity
	}{
		{schema.KindMissingField, true, schema.SeverityCritical},
		{schema.KindMissingField, false, schema.SeverityWarning},
		{schema.KindInvalidType, false, schema.SeverityCritical},
		{schema.KindInvalidType, true, schema.SeverityCritical},
		{schema.KindInvalidValue, false, schema.SeverityCritical},
		{schema.KindMissingNestedField, true, schema.SeverityWarning},
		{schema.KindInvalidNestedType, false, schema.SeverityWarning},
		{schema.KindSchemaViolation, true, schema.SeverityInfo},
		{schema.Kind("SOMETHING_ELSE"), false, schema.SeverityInfo},
	}
	for _, c := range cases {
		if got := SeverityFor(c.kind, c.required); got != c.want {
			t.Errorf("SeverityFor(%s, %v) = %s, want %s", c.kind, c.required, got, c.want)
		}
	}
}

func TestNew_RequiredMembershipFromRegistry(t *testing.T) {
	v := New(schema.Canonical, schema.KindMissingField, "metadata", "present", "absent")
	if v.Severity != schema.SeverityCritical {
		t.Errorf("missing metadata severity = %s, want critical", v.Severity)
	}
	v = New(schema.Canonical, schema.KindMissingField, "price", "present", "absent")
	if v.Severity != schema.SeverityWarning {
		t.Errorf("missing price severity = %s, want warning", v.Severity)
	}
	if !strings.Contains(v.Message, "price") {
		t.Errorf("message %q should name the field", v.Message)
	}
}

func TestWithSeverity_NeverDowngradesFixedKinds(t *testing.T) {
	v := New(schema.Canonical, schema.KindInvalidValue, "duration", ">= 0", "-5",
		WithSeverity(schema.SeverityInfo))
	if v.Severity != schema.SeverityCritical {
		t.Errorf("INVALID_VALUE downgraded to %s", v.Severity)
	}
	v = New(schema.Canonical, schema.KindMissingField, "id", "present", "absent",
		WithSeverity(schema.SeverityWarning))
	if v.Severity != schema.SeverityCritical {
		t.Errorf("required MISSING_FIELD downgraded to %s", v.Severity)
	}
}

func TestWithSeverity_OverridesSchemaViolation(t *testing.T) {
	v := New(schema.Canonical, schema.KindSchemaViolation, "location", "shape", "{}",
		WithSeverity(schema.SeverityWarning), WithMessage("custom"))
	if v.Severity != schema.SeverityWarning {
		t.Errorf("severity = %s, want warning", v.Severity)
	}
	if v.Message != "custom" {
		t.Errorf("message = %q, want custom", v.Message)
	}
}
