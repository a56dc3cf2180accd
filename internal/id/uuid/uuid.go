// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// venueNamespace scopes deterministic venue identities.
var venueNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("menu-harvester:venue"))

// Generator creates UUID v7 strings for menus and items.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// VenueID derives a stable restaurant identity from its normalized name and
// coordinates rounded to three decimals (roughly 100m), so re-discovering
// the same venue on a later run upserts the same row.
func VenueID(name string, lat, lon float64) string {
	key := strings.Join([]string{
		strings.Join(strings.Fields(strings.ToLower(name)), " "),
		strconv.FormatFloat(round3(lat), 'f', 3, 64),
		strconv.FormatFloat(round3(lon), 'f', 3, 64),
	}, "|")
	return uuid.NewSHA1(venueNamespace, []byte(key)).String()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
