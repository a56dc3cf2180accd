package parser

import (
	"slices"
	"strings"
	"unicode"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

var tagKeywords = map[string][]string{
	"vegan":       {"vegan"},
	"vegetarian":  {"vegetarian", "veggie"},
	"gluten-free": {"gluten-free", "gf"},
	"spicy":       {"spicy", "chili", "chilli", "jalapeno", "jalapeño"},
}

var allergenKeywords = map[string][]string{
	"nuts":      {"nut", "walnut", "almond", "pecan", "pistachio", "hazelnut", "cashew"},
	"peanut":    {"peanut"},
	"dairy":     {"dairy", "cheese", "milk", "cream", "butter", "mozzarella", "parmesan", "ricotta", "burrata", "yogurt"},
	"shellfish": {"shellfish", "shrimp", "prawn", "crab", "lobster", "scallop", "mussel", "clam", "oyster"},
	"egg":       {"egg"},
	"soy":       {"soy", "tofu", "edamame"},
	"gluten":    {"gluten", "wheat", "bread", "pasta", "flour", "crouton"},
}

// enrich adds keyword-derived tags and allergens. Existing values are kept
// and both lists come out sorted.
func enrich(item *crawler.MenuItem) {
	words := keywordTokens(item.Name + " " + item.Description)
	item.Tags = mergeMatches(item.Tags, tagKeywords, words)
	allergens := mergeMatches(item.Allergens, allergenKeywords, words)
	if slices.Contains(item.Tags, "gluten-free") {
		allergens = slices.DeleteFunc(allergens, func(a string) bool { return a == "gluten" })
	}
	item.Allergens = allergens
}

func keywordTokens(text string) map[string]struct{} {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "gluten free", "gluten-free")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func mergeMatches(existing []string, table map[string][]string, words map[string]struct{}) []string {
	out := slices.Clone(existing)
	for label, keywords := range table {
		for _, kw := range keywords {
			if hasWord(words, kw) {
				out = append(out, label)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func hasWord(words map[string]struct{}, kw string) bool {
	for _, form := range []string{kw, kw + "s", kw + "es"} {
		if _, ok := words[form]; ok {
			return true
		}
	}
	return false
}
