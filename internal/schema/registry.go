package schema

// FieldType is the JSON value type a field must carry.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldObject FieldType = "object"
)

// FormatISO8601 names the timestamp format `YYYY-MM-DDTHH:MM:SS[.mmm]Z?`.
const FormatISO8601 = "iso8601"

// FieldSpec describes one field of the canonical shape.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	// NonEmpty rejects the empty string for string fields.
	NonEmpty bool
	// Enum, when set, restricts a string field to these values.
	Enum []string
	// Min and Max bound number fields, inclusive.
	Min, Max *float64
	// Format names a string format checked by the validator.
	Format string
	// Fields is the nested contract of an object field. Nil means the object
	// is opaque.
	Fields []FieldSpec
	// AnyOf lists alternative key groups of which at least one must be fully
	// present in an object field.
	AnyOf [][]string
}

// Registry is the static description of the canonical card shape. Changing it
// is the only way to add a result type or relax a rule.
type Registry struct {
	Fields []FieldSpec
}

func bound(v float64) *float64 { return &v }

// Canonical is the registry every card is validated against.
var Canonical = Registry{
	Fields: []FieldSpec{
		{Name: "id", Type: FieldString, Required: true, NonEmpty: true},
		{Name: "type", Type: FieldString, Required: true, Enum: []string{
			string(TypeFlight), string(TypePlace), string(TypeTransit),
		}},
		{Name: "title", Type: FieldString, Required: true, NonEmpty: true},
		{Name: "subtitle", Type: FieldString, Required: true, NonEmpty: true},
		// A location matching none of the shapes is only an info-level
		// SCHEMA_VIOLATION even though the field is required, so such a card
		// still passes. Only an absent or non-object location is critical.
		{Name: "location", Type: FieldObject, Required: true, AnyOf: [][]string{
			{"from", "to"},
			{"lat", "lng"},
			{"address"},
			{"name"},
		}},
		{Name: "details", Type: FieldObject, Required: true},
		{Name: "essentialDetails", Type: FieldObject, Required: true},
		{Name: "externalLinks", Type: FieldObject, Required: true, Fields: []FieldSpec{
			{Name: "booking", Type: FieldString},
			{Name: "maps", Type: FieldString},
			{Name: "directions", Type: FieldString},
			{Name: "website", Type: FieldString},
		}},
		{Name: "metadata", Type: FieldObject, Required: true, Fields: []FieldSpec{
			{Name: "provider", Type: FieldString, Required: true},
			{Name: "timestamp", Type: FieldString, Required: true, Format: FormatISO8601},
			{Name: "confidence", Type: FieldNumber, Min: bound(0), Max: bound(1)},
			{Name: "bookingToken", Type: FieldString},
		}},
		{Name: "price", Type: FieldObject, Fields: []FieldSpec{
			{Name: "amount", Type: FieldNumber, Required: true},
			{Name: "currency", Type: FieldString, Required: true},
		}},
		{Name: "duration", Type: FieldNumber, Min: bound(0)},
	},
}

// Required returns the names of the required top-level fields in order.
func (r Registry) Required() []string {
	var names []string
	for _, f := range r.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// IsRequired reports whether name is a required top-level field.
func (r Registry) IsRequired(name string) bool {
	f, ok := r.Field(name)
	return ok && f.Required
}

// Field looks up a top-level field by name.
func (r Registry) Field(name string) (FieldSpec, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// HasType reports whether t is an enumerated card type.
func (r Registry) HasType(t CardType) bool {
	f, ok := r.Field("type")
	if !ok {
		return false
	}
	for _, e := range f.Enum {
		if e == string(t) {
			return true
		}
	}
	return false
}
