package validator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	govalidator "github.com/go-playground/validator/v10"

	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/taxonomy"
)

const (
	tagISO8601       = "iso8601"
	tagFinite        = "finite"
	tagLocationShape = "location_shape"
)

// cardStructs checks the validate tags on schema.Card. It is safe for
// concurrent use and caches struct metadata across calls. Required struct
// checking stays off: a zero-valued Details struct is still a present object.
var cardStructs = newCardStructs()

func newCardStructs() *govalidator.Validate {
	v := govalidator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	must(v.RegisterValidation(tagISO8601, func(fl govalidator.FieldLevel) bool {
		return iso8601Re.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation(tagFinite, func(fl govalidator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}))
	v.RegisterStructValidation(locationShape, schema.Location{})
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func locationShape(sl govalidator.StructLevel) {
	loc := sl.Current().Interface().(schema.Location)
	switch {
	case loc.From != "" && loc.To != "":
	case loc.Lat != nil && loc.Lng != nil:
	case loc.Address != "", loc.Name != "":
	default:
		sl.ReportError(loc, "", "", tagLocationShape, "")
	}
}

// validateTyped checks a typed card with its struct tags first, then walks
// its wire form against the registry for everything a tag cannot express.
// A violation both passes find is reported once.
func (v *Validator) validateTyped(c *schema.Card, expected schema.CardType) schema.ValidationResult {
	var errs []schema.Violation
	if err := cardStructs.Struct(c); err != nil {
		errs = v.convertValidatorErrors(err)
	}
	m, err := c.Map()
	if err != nil {
		// NaN and infinities cannot be encoded; the tags above have
		// usually reported them already.
		if !hasCritical(errs) {
			errs = append(errs, v.violation(schema.KindInvalidValue, schema.RootField, "JSON-encodable card", err.Error()))
		}
		return finish(errs)
	}
	return finish(mergeViolations(errs, v.validateObject(m, expected).Errors))
}

// convertValidatorErrors maps struct tag failures onto violation kinds.
func (v *Validator) convertValidatorErrors(err error) []schema.Violation {
	var fieldErrs govalidator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []schema.Violation{v.violation(schema.KindInvalidType, schema.RootField, "card", err.Error())}
	}
	errs := make([]schema.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fieldPath(fe.Namespace())
		switch fe.Tag() {
		case "required":
			if fe.Kind() == reflect.String {
				errs = append(errs, v.violation(schema.KindInvalidValue, path, "non-empty string", `""`))
			} else {
				errs = append(errs, v.violation(schema.KindInvalidType, path, "object", "null"))
			}
		case "oneof":
			errs = append(errs, v.violation(schema.KindInvalidValue, path,
				strings.ReplaceAll(fe.Param(), " ", "|"), actual(fe)))
		case "min", "max", tagFinite:
			errs = append(errs, v.violation(schema.KindInvalidValue, path, v.rangeExpected(path, fe), actual(fe)))
		case tagISO8601:
			errs = append(errs, v.violation(schema.KindInvalidValue, path, "ISO-8601 timestamp", actual(fe)))
		case tagLocationShape:
			shapes := "one of " + describeShapes(v.anyOf(path))
			errs = append(errs, v.violation(schema.KindSchemaViolation, path, shapes, "{}",
				taxonomy.WithMessage(fmt.Sprintf("%s must contain one of: %s", path, describeShapes(v.anyOf(path))))))
		default:
			errs = append(errs, v.violation(schema.KindInvalidValue, path, fe.Tag(), actual(fe)))
		}
	}
	return errs
}

// fieldPath turns "Card.metadata.confidence" into "metadata.confidence".
// Struct-level failures carry a trailing separator.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	return strings.Trim(ns, ".")
}

// fieldValue unwraps the failing value so it renders like its decoded form.
func fieldValue(fe govalidator.FieldError) any {
	rv := reflect.ValueOf(fe.Value())
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Invalid:
		return nil
	}
	return rv.Interface()
}

func actual(fe govalidator.FieldError) string {
	if n, ok := fieldValue(fe).(float64); ok {
		return formatNumber(n)
	}
	return quote(fieldValue(fe))
}

// spec finds the registry entry for a top-level or one-level nested path.
func (v *Validator) spec(path string) (schema.FieldSpec, bool) {
	parent, child, nested := strings.Cut(path, ".")
	f, ok := v.reg.Field(parent)
	if !ok || !nested {
		return f, ok
	}
	for _, nf := range f.Fields {
		if nf.Name == child {
			return nf, true
		}
	}
	return schema.FieldSpec{}, false
}

func (v *Validator) rangeExpected(path string, fe govalidator.FieldError) string {
	if f, ok := v.spec(path); ok {
		if msg, _ := outOfRange(f, 0); msg != "" {
			return msg
		}
	}
	if fe.Param() == "" {
		return "finite number"
	}
	return fe.Tag() + " " + fe.Param()
}

func (v *Validator) anyOf(path string) [][]string {
	f, _ := v.spec(path)
	return f.AnyOf
}

// mergeViolations appends the registry's violations to the tag violations,
// skipping any already reported for the same field, kind and expectation.
func mergeViolations(tagged, walked []schema.Violation) []schema.Violation {
	type key struct {
		field    string
		kind     schema.Kind
		expected string
	}
	seen := make(map[key]bool, len(tagged))
	for _, e := range tagged {
		seen[key{e.Field, e.Kind, e.Expected}] = true
	}
	out := tagged
	for _, e := range walked {
		if !seen[key{e.Field, e.Kind, e.Expected}] {
			out = append(out, e)
		}
	}
	return out
}
