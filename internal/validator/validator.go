// Package validator checks candidate canonical cards against the schema
// registry. It is pure: no I/O, no shared mutable state, and it never returns
// a Go error for a malformed candidate. Shape problems are reported as
// violations in the result.
package validator

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/taxonomy"
)

// iso8601Re matches YYYY-MM-DDTHH:MM:SS with optional .mmm and optional Z.
var iso8601Re = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{3})?Z?$`)

// Validator validates candidates against a registry. The zero value is not
// usable; construct one with New.
type Validator struct {
	reg     schema.Registry
	workers int
}

// Option configures a Validator.
type Option func(*Validator)

// WithRegistry replaces the canonical registry.
func WithRegistry(r schema.Registry) Option {
	return func(v *Validator) { v.reg = r }
}

// WithWorkers sets how many cards of a batch are validated concurrently.
// Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n < 1 {
			n = 1
		}
		v.workers = n
	}
}

// New returns a Validator over schema.Canonical.
func New(opts ...Option) *Validator {
	v := &Validator{reg: schema.Canonical, workers: 1}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = New()

// ValidateCard validates candidate with the default validator.
func ValidateCard(candidate any, expected schema.CardType) schema.ValidationResult {
	return defaultValidator.ValidateCard(candidate, expected)
}

// ValidateCardArray validates candidates with the default validator.
func ValidateCardArray(candidates any, expected schema.CardType) schema.ArrayResult {
	return defaultValidator.ValidateCardArray(candidates, expected)
}

// ValidateCard checks one candidate. expected may be empty; when set, a card
// of a different type gets an INVALID_VALUE violation on "type".
//
// Order of evaluation:
//  1. The candidate must be an object; otherwise one INVALID_TYPE on "root"
//     is returned and nothing else is checked.
//  2. Every required top-level field must be present. Any critical violation
//     here ends validation; nested checks are skipped.
//  3. Every present field is checked against its registry entry.
//  4. The expected type is compared.
//
// A schema.Card is first checked against its validate tags and then walked
// in wire form, so both forms of the same card get the same verdict.
func (v *Validator) ValidateCard(candidate any, expected schema.CardType) schema.ValidationResult {
	switch c := candidate.(type) {
	case schema.Card:
		return v.validateTyped(&c, expected)
	case *schema.Card:
		if c != nil {
			return v.validateTyped(c, expected)
		}
	}
	return v.validateObject(candidate, expected)
}

func (v *Validator) validateObject(candidate any, expected schema.CardType) schema.ValidationResult {
	card, ok := asObject(candidate)
	if !ok {
		return finish([]schema.Violation{
			v.violation(schema.KindInvalidType, schema.RootField, "object", typeName(candidate)),
		})
	}

	var errs []schema.Violation
	for _, name := range v.reg.Required() {
		if _, present := card[name]; !present {
			errs = append(errs, v.violation(schema.KindMissingField, name, "present", "absent"))
		}
	}
	if hasCritical(errs) {
		return finish(errs)
	}

	for _, f := range v.reg.Fields {
		val, present := card[f.Name]
		if !present {
			continue
		}
		errs = append(errs, v.checkField(f, val)...)
	}

	if expected != "" {
		if got, _ := card["type"].(string); got != string(expected) {
			errs = append(errs, v.violation(schema.KindInvalidValue, "type",
				string(expected), quote(card["type"]),
				taxonomy.WithMessage(fmt.Sprintf("expected card type %q, got %s", expected, quote(card["type"])))))
		}
	}

	return finish(errs)
}

// ValidateCardArray validates every element of candidates, preserving input
// order in the per-card results. A non-sequence input fails fast with one
// INVALID_TYPE violation on "root".
func (v *Validator) ValidateCardArray(candidates any, expected schema.CardType) schema.ArrayResult {
	items, ok := asSlice(candidates)
	if !ok {
		viol := v.violation(schema.KindInvalidType, schema.RootField, "array", typeName(candidates))
		res := schema.ArrayResult{
			Errors:         []schema.Violation{viol},
			Results:        []schema.CardResult{},
			CriticalErrors: 1,
		}
		res.Summary.Add(viol.Severity)
		return res
	}

	results := make([]schema.CardResult, len(items))
	if v.workers <= 1 || len(items) < 2 {
		for i, item := range items {
			results[i] = v.cardResult(i, item, expected)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(v.workers)
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				results[i] = v.cardResult(i, item, expected)
				return nil
			})
		}
		_ = g.Wait() // workers never fail
	}

	return aggregate(results)
}

func (v *Validator) cardResult(i int, item any, expected schema.CardType) schema.CardResult {
	cr := schema.CardResult{Index: i, Result: v.ValidateCard(item, expected)}
	if m, ok := asObject(item); ok {
		cr.ID, _ = m["id"].(string)
	}
	return cr
}

func aggregate(results []schema.CardResult) schema.ArrayResult {
	res := schema.ArrayResult{
		Errors:     []schema.Violation{},
		Results:    results,
		TotalCards: len(results),
	}
	for _, r := range results {
		if r.Result.IsValid {
			res.ValidCards++
		} else {
			res.InvalidCards++
		}
		res.CriticalErrors += r.Result.Summary.Critical
		res.Warnings += r.Result.Summary.Warning
		res.Summary.Critical += r.Result.Summary.Critical
		res.Summary.Warning += r.Result.Summary.Warning
		res.Summary.Info += r.Result.Summary.Info
	}
	// Both conditions are checked so a miscounted aggregate cannot flip IsValid.
	res.IsValid = res.InvalidCards == 0 && res.CriticalErrors == 0
	return res
}

// checkField validates one present top-level field.
func (v *Validator) checkField(f schema.FieldSpec, val any) []schema.Violation {
	var errs []schema.Violation
	switch f.Type {
	case schema.FieldString:
		s, ok := val.(string)
		if !ok {
			return append(errs, v.violation(schema.KindInvalidType, f.Name, "string", typeName(val)))
		}
		if f.NonEmpty && strings.TrimSpace(s) == "" {
			errs = append(errs, v.violation(schema.KindInvalidValue, f.Name, "non-empty string", `""`))
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			errs = append(errs, v.violation(schema.KindInvalidValue, f.Name,
				strings.Join(f.Enum, "|"), quote(s)))
		}
	case schema.FieldNumber:
		n, ok := asNumber(val)
		if !ok {
			return append(errs, v.violation(schema.KindInvalidType, f.Name, "number", typeName(val)))
		}
		if msg, bad := outOfRange(f, n); bad {
			errs = append(errs, v.violation(schema.KindInvalidValue, f.Name, msg, formatNumber(n)))
		}
	case schema.FieldObject:
		obj, ok := val.(map[string]any)
		if !ok {
			return append(errs, v.violation(schema.KindInvalidType, f.Name, "object", typeName(val)))
		}
		if len(f.AnyOf) > 0 && !anyShape(obj, f.AnyOf) {
			errs = append(errs, v.violation(schema.KindSchemaViolation, f.Name,
				"one of "+describeShapes(f.AnyOf), describeKeys(obj),
				taxonomy.WithMessage(fmt.Sprintf("%s must contain one of: %s", f.Name, describeShapes(f.AnyOf)))))
		}
		errs = append(errs, v.checkNested(f.Name, f.Fields, obj)...)
	}
	return errs
}

// checkNested validates the nested contract of an object field. Nested shape
// problems are warnings; format and range failures stay critical.
func (v *Validator) checkNested(parent string, specs []schema.FieldSpec, obj map[string]any) []schema.Violation {
	var errs []schema.Violation
	for _, f := range specs {
		path := parent + "." + f.Name
		val, present := obj[f.Name]
		if !present || val == nil {
			if f.Required {
				errs = append(errs, v.violation(schema.KindMissingNestedField, path, string(f.Type), "absent"))
			}
			continue
		}
		switch f.Type {
		case schema.FieldString:
			s, ok := val.(string)
			if !ok {
				errs = append(errs, v.violation(schema.KindInvalidNestedType, path, "string", typeName(val)))
				continue
			}
			if f.Format == schema.FormatISO8601 && !iso8601Re.MatchString(s) {
				errs = append(errs, v.violation(schema.KindInvalidValue, path, "ISO-8601 timestamp", quote(s)))
			}
		case schema.FieldNumber:
			n, ok := asNumber(val)
			if !ok {
				errs = append(errs, v.violation(schema.KindInvalidNestedType, path, "number", typeName(val)))
				continue
			}
			if msg, bad := outOfRange(f, n); bad {
				errs = append(errs, v.violation(schema.KindInvalidValue, path, msg, formatNumber(n)))
			}
		case schema.FieldObject:
			if _, ok := val.(map[string]any); !ok {
				errs = append(errs, v.violation(schema.KindInvalidNestedType, path, "object", typeName(val)))
			}
		}
	}
	return errs
}

func (v *Validator) violation(k schema.Kind, field, expected, actual string, opts ...taxonomy.Option) schema.Violation {
	return taxonomy.New(v.reg, k, field, expected, actual, opts...)
}

func finish(errs []schema.Violation) schema.ValidationResult {
	if errs == nil {
		errs = []schema.Violation{}
	}
	res := schema.ValidationResult{Errors: errs}
	for _, e := range errs {
		res.Summary.Add(e.Severity)
	}
	res.IsValid = res.Summary.Critical == 0
	return res
}

func hasCritical(errs []schema.Violation) bool {
	for _, e := range errs {
		if e.Severity == schema.SeverityCritical {
			return true
		}
	}
	return false
}

// outOfRange reports whether n breaks the bounds of f. A bounded field never
// accepts NaN or an infinity, whichever bound it has.
func outOfRange(f schema.FieldSpec, n float64) (string, bool) {
	nonFinite := math.IsNaN(n) || math.IsInf(n, 0)
	switch {
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("number in [%s, %s]", formatNumber(*f.Min), formatNumber(*f.Max)),
			nonFinite || n < *f.Min || n > *f.Max
	case f.Min != nil:
		return ">= " + formatNumber(*f.Min), nonFinite || n < *f.Min
	case f.Max != nil:
		return "<= " + formatNumber(*f.Max), nonFinite || n > *f.Max
	}
	return "", false
}

func anyShape(obj map[string]any, shapes [][]string) bool {
	for _, keys := range shapes {
		complete := true
		for _, k := range keys {
			if val, ok := obj[k]; !ok || val == nil {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
