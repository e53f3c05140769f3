// Package profile defines per-card-type translation profiles that modulate
// LLM prompt construction. Each profile provides a SystemPromptAddendum that
// is appended to the translator's system prompt.
package profile

import (
	"fmt"
	"strings"

	"github.com/dshills/cardcheck/internal/schema"
)

// Profile describes how raw provider data of one card type is translated.
type Profile struct {
	Type                 schema.CardType
	Description          string
	SystemPromptAddendum string
	// LocationKeys are the location shapes the translator should prefer,
	// most preferred first.
	LocationKeys []string
}

// builtins is the registry of built-in profiles keyed by card type.
var builtins = map[schema.CardType]Profile{
	schema.TypeFlight: {
		Type:        schema.TypeFlight,
		Description: "Flight offers from airline and aggregator APIs.",
		SystemPromptAddendum: "The input is a flight offer. Set location.from and location.to to the " +
			"origin and destination airport codes. Put airline, flightNumber, stops and cabin in " +
			"details. Put departure and arrival local times in essentialDetails. duration is the " +
			"total trip time in minutes. Copy the fare into price with an ISO 4217 currency code.",
		LocationKeys: []string{"from", "to"},
	},
	schema.TypePlace: {
		Type:        schema.TypePlace,
		Description: "Points of interest from places and maps APIs.",
		SystemPromptAddendum: "The input is a point of interest. Prefer location.lat and location.lng " +
			"when coordinates are present, and include location.address when known. Put category, " +
			"rating and priceLevel in details. Put opening hours in essentialDetails. Set " +
			"externalLinks.maps and externalLinks.website when the input has them.",
		LocationKeys: []string{"lat", "lng", "address", "name"},
	},
	schema.TypeTransit: {
		Type:        schema.TypeTransit,
		Description: "Public transit routes from journey-planner APIs.",
		SystemPromptAddendum: "The input is a public transit journey. Set location.from and location.to " +
			"to the first and last stop names. Put the dominant mode in details.mode and every leg in " +
			"details.steps with mode, line, from and to. duration is the total journey time in " +
			"minutes. Set externalLinks.directions when the input has a route link.",
		LocationKeys: []string{"from", "to"},
	},
}

// Load returns the built-in profile for the named card type or an error if
// the name is unknown.
func Load(name string) (Profile, error) {
	p, ok := builtins[schema.CardType(name)]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q (available: %s)", name, available())
	}
	return p, nil
}

func available() string {
	names := make([]string, 0, len(schema.CardTypes))
	for _, ct := range schema.CardTypes {
		if _, ok := builtins[ct]; ok {
			names = append(names, string(ct))
		}
	}
	return strings.Join(names, ", ")
}
