package schema

import (
	"encoding/json"
	"fmt"
)

// Card is the typed form of a canonical card. Details is discriminated by
// Type: FlightDetails, PlaceDetails or TransitDetails.
//
// Required fields never carry omitempty: a nil Details or EssentialDetails
// encodes as null and is rejected as the wrong type, while an empty map is a
// present, valid field. The validate tags mirror Canonical for the rules a
// struct tag can express.
type Card struct {
	ID               string         `json:"id" validate:"required"`
	Type             CardType       `json:"type" validate:"oneof=flight place transit"`
	Title            string         `json:"title" validate:"required"`
	Subtitle         string         `json:"subtitle" validate:"required"`
	Location         Location       `json:"location"`
	Details          Details        `json:"details" validate:"required"`
	EssentialDetails map[string]any `json:"essentialDetails" validate:"required"`
	ExternalLinks    ExternalLinks  `json:"externalLinks"`
	Metadata         Metadata       `json:"metadata"`
	Price            *Price         `json:"price,omitempty"`
	Duration         *float64       `json:"duration,omitempty" validate:"omitempty,finite,min=0"`
}

// Details is the type-specific payload of a card.
type Details interface {
	CardType() CardType
}

// Location must carry at least one of from/to, lat/lng, address, or name.
type Location struct {
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address string   `json:"address,omitempty"`
	Name    string   `json:"name,omitempty"`
}

// ExternalLinks holds optional outbound URLs.
type ExternalLinks struct {
	Booking    string `json:"booking,omitempty"`
	Maps       string `json:"maps,omitempty"`
	Directions string `json:"directions,omitempty"`
	Website    string `json:"website,omitempty"`
}

// Metadata records where and when a card was produced.
type Metadata struct {
	Provider     string   `json:"provider"`
	Timestamp    string   `json:"timestamp" validate:"iso8601"`
	Confidence   *float64 `json:"confidence,omitempty" validate:"omitempty,min=0,max=1"`
	BookingToken string   `json:"bookingToken,omitempty"`
}

// Price is an amount in a currency.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// FlightDetails is the payload of a flight card.
type FlightDetails struct {
	Airline       string `json:"airline"`
	FlightNumber  string `json:"flightNumber"`
	DepartureTime string `json:"departureTime,omitempty"`
	ArrivalTime   string `json:"arrivalTime,omitempty"`
	Stops         int    `json:"stops"`
	CabinClass    string `json:"cabinClass,omitempty"`
}

func (FlightDetails) CardType() CardType { return TypeFlight }

// PlaceDetails is the payload of a place or hotel card.
type PlaceDetails struct {
	Category     string   `json:"category,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	OpeningHours []string `json:"openingHours,omitempty"`
}

func (PlaceDetails) CardType() CardType { return TypePlace }

// TransitStep is one leg of a transit route.
type TransitStep struct {
	Mode        string `json:"mode"`
	Instruction string `json:"instruction"`
	Line        string `json:"line,omitempty"`
}

// TransitDetails is the payload of a transit route card.
type TransitDetails struct {
	Mode           string        `json:"mode"`
	DistanceMeters int           `json:"distanceMeters,omitempty"`
	Steps          []TransitStep `json:"steps,omitempty"`
}

func (TransitDetails) CardType() CardType { return TypeTransit }

// UnmarshalJSON decodes Details into the concrete type selected by Type.
func (c *Card) UnmarshalJSON(b []byte) error {
	type plain Card
	aux := struct {
		*plain
		Details json.RawMessage `json:"details"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		c.Details = nil
		return nil
	}
	var d Details
	switch c.Type {
	case TypeFlight:
		d = &FlightDetails{}
	case TypePlace:
		d = &PlaceDetails{}
	case TypeTransit:
		d = &TransitDetails{}
	default:
		return fmt.Errorf("schema: card %q: unknown type %q", c.ID, c.Type)
	}
	if err := json.Unmarshal(aux.Details, d); err != nil {
		return fmt.Errorf("schema: card %q: details: %w", c.ID, err)
	}
	c.Details = d
	return nil
}

// Map returns the wire form of the card, keyed by JSON field names.
func (c Card) Map() (map[string]any, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal card: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("schema: unmarshal card: %w", err)
	}
	return m, nil
}
