package dedupe

import (
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Venue matching thresholds.
const (
	DefaultNameThreshold = 0.85
	DefaultRadiusMeters  = 60.0
)

// Matcher decides whether two candidates describe the same venue.
type Matcher struct {
	NameThreshold float64 `mapstructure:"name_threshold" validate:"gt=0,lte=1"`
	RadiusMeters  float64 `mapstructure:"radius_meters" validate:"gt=0"`
}

// DefaultMatcher uses the standard thresholds.
func DefaultMatcher() Matcher {
	return Matcher{NameThreshold: DefaultNameThreshold, RadiusMeters: DefaultRadiusMeters}
}

// NameSimilarity is a token-sort Levenshtein ratio in [0,1]. Case,
// punctuation, apostrophes and word order are ignored.
func NameSimilarity(a, b string) float64 {
	na, nb := sortedTokens(a), sortedTokens(b)
	if na == "" && nb == "" {
		return 1
	}
	longest := max(len([]rune(na)), len([]rune(nb)))
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// NamesMatch reports whether the names are at least threshold similar.
func NamesMatch(a, b string, threshold float64) bool {
	return NameSimilarity(a, b) >= threshold
}

// WithinRadius reports whether the candidates are at most meters apart.
func WithinRadius(a, b crawler.Candidate, meters float64) bool {
	return crawler.DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon) <= meters
}

// SameVenue requires both the name and the distance rule to hold.
func (m Matcher) SameVenue(a, b crawler.Candidate) bool {
	return NamesMatch(a.Name, b.Name, m.NameThreshold) && WithinRadius(a, b, m.RadiusMeters)
}

// SameVenue applies the default thresholds.
func SameVenue(a, b crawler.Candidate) bool {
	return DefaultMatcher().SameVenue(a, b)
}

// Venues merges matching candidates until no pair matches, so running it on
// its own output changes nothing.
func (m Matcher) Venues(candidates []crawler.Candidate) []crawler.Candidate {
	out := slices.Clone(candidates)
	for {
		next, merged := m.pass(out)
		out = next
		if !merged {
			return out
		}
	}
}

// Venues applies the default thresholds.
func Venues(candidates []crawler.Candidate) []crawler.Candidate {
	return DefaultMatcher().Venues(candidates)
}

func (m Matcher) pass(candidates []crawler.Candidate) ([]crawler.Candidate, bool) {
	out := make([]crawler.Candidate, 0, len(candidates))
	merged := false
	for _, c := range candidates {
		matched := false
		for i := range out {
			if m.SameVenue(out[i], c) {
				out[i] = Merge(out[i], c)
				matched = true
				merged = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out, merged
}

// Merge combines two records of the same venue. The one with more populated
// fields is the base; its empty fields are filled from the other and the
// source lists are unioned.
func Merge(a, b crawler.Candidate) crawler.Candidate {
	base, other := a, b
	if b.PopulatedFields() > a.PopulatedFields() {
		base, other = b, a
	}
	if base.Website == "" {
		base.Website = other.Website
	}
	if base.Phone == "" {
		base.Phone = other.Phone
	}
	if base.Cuisine == "" {
		base.Cuisine = other.Cuisine
	}
	if base.PriceLevel == 0 {
		base.PriceLevel = other.PriceLevel
	}
	if base.Rating == 0 {
		base.Rating = other.Rating
	}
	if base.ReviewCount == 0 {
		base.ReviewCount = other.ReviewCount
	}
	sources := append(slices.Clone(base.Sources), other.Sources...)
	sort.Strings(sources)
	base.Sources = slices.Compact(sources)
	return base
}

func sortedTokens(s string) string {
	s = strings.NewReplacer("'", "", "’", "", "`", "").Replace(strings.ToLower(s))
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
