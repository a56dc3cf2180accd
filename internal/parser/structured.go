package parser

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Structured reads schema.org MenuItem entities from JSON-LD blocks.
type Structured struct{}

// NewStructured returns the structured-data strategy.
func NewStructured() *Structured {
	return &Structured{}
}

// Name implements Strategy.
func (*Structured) Name() string { return crawler.SourceStructured }

// Confidence implements Strategy.
func (*Structured) Confidence() float64 { return StructuredConfidence }

// Extract implements Strategy. Malformed blocks are skipped.
func (*Structured) Extract(doc *goquery.Document, _ []byte) []crawler.MenuItem {
	var items []crawler.MenuItem
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		raw = strings.TrimPrefix(raw, "<!--")
		raw = strings.TrimSuffix(raw, "-->")
		var node any
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return
		}
		walkLD(node, "", &items)
	})
	return items
}

// walkLD visits every object; map keys are walked in sorted order so output
// order does not depend on map iteration.
func walkLD(node any, section string, out *[]crawler.MenuItem) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			walkLD(child, section, out)
		}
	case map[string]any:
		types := ldTypes(v["@type"])
		if types["MenuSection"] {
			if name := ldString(v["name"]); name != "" {
				section = name
			}
		}
		if types["MenuItem"] {
			if item, ok := ldItem(v, section); ok {
				*out = append(*out, item)
			}
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkLD(v[k], section, out)
		}
	}
}

func ldItem(m map[string]any, section string) (crawler.MenuItem, bool) {
	name := collapse(ldString(m["name"]))
	if name == "" {
		return crawler.MenuItem{}, false
	}
	item := crawler.MenuItem{
		Section:     section,
		Name:        name,
		Description: collapse(ldString(m["description"])),
		Currency:    DefaultCurrency,
		Tags:        dietTags(m["suitableForDiet"]),
	}
	if price, currency, ok := ldOffer(m["offers"]); ok {
		item.Price = floatPtr(price)
		if isCurrencyCode(currency) {
			item.Currency = currency
		}
	}
	return item, true
}

// ldOffer takes the first offer carrying a readable price.
func ldOffer(node any) (float64, string, bool) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			if price, currency, ok := ldOffer(child); ok {
				return price, currency, true
			}
		}
	case map[string]any:
		price, ok := ldNumber(v["price"])
		if !ok {
			price, ok = ldNumber(v["lowPrice"])
		}
		if !ok {
			return 0, "", false
		}
		return price, strings.ToUpper(strings.TrimSpace(ldString(v["priceCurrency"]))), true
	}
	return 0, "", false
}

func ldNumber(node any) (float64, bool) {
	switch v := node.(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
		return parseAmount(v)
	}
	return 0, false
}

func ldString(node any) string {
	switch v := node.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			return ldString(v[0])
		}
	case map[string]any:
		return ldString(v["@value"])
	}
	return ""
}

func ldTypes(node any) map[string]bool {
	out := make(map[string]bool)
	switch v := node.(type) {
	case string:
		out[strings.TrimPrefix(v, "schema:")] = true
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				out[strings.TrimPrefix(s, "schema:")] = true
			}
		}
	}
	return out
}

// dietTags maps values such as "https://schema.org/GlutenFreeDiet" to
// "gluten-free".
func dietTags(node any) []string {
	var raw []string
	switch v := node.(type) {
	case string:
		raw = []string{v}
	case []any:
		for _, d := range v {
			if s := ldString(d); s != "" {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		if id := ldString(v["@id"]); id != "" {
			raw = []string{id}
		}
	}
	var tags []string
	for _, r := range raw {
		r = r[strings.LastIndexAny(r, "/:")+1:]
		r = strings.TrimSuffix(r, "Diet")
		if tag := kebab(r); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func kebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
