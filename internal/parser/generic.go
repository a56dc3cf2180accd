package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

const (
	maxGenericLine  = 120
	maxGenericName  = 80
	maxGenericItems = 50
	lineSeparators  = " \t.-–—:|·…•*"
	genericSelector = "body, p, li, div, span, td, h3, h4, h5, h6"
)

// Generic scans short text blocks for "name $price" lines.
type Generic struct{}

// NewGeneric returns the heuristic strategy.
func NewGeneric() *Generic {
	return &Generic{}
}

// Name implements Strategy.
func (*Generic) Name() string { return crawler.SourceGeneric }

// Confidence implements Strategy.
func (*Generic) Confidence() float64 { return GenericConfidence }

// Extract implements Strategy. Only the innermost matching block of a
// subtree is used, so a line wrapped in several divs is read once.
func (*Generic) Extract(doc *goquery.Document, _ []byte) []crawler.MenuItem {
	blocks := doc.Find(genericSelector)
	matches := make(map[*html.Node]crawler.MenuItem)
	blocks.Each(func(_ int, s *goquery.Selection) {
		if item, ok := genericLine(s.Text()); ok {
			matches[s.Get(0)] = item
		}
	})

	var items []crawler.MenuItem
	blocks.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		node := s.Get(0)
		item, ok := matches[node]
		if !ok || hasMatchingDescendant(node, matches) {
			return true
		}
		items = append(items, item)
		return len(items) < maxGenericItems
	})
	return items
}

func hasMatchingDescendant(n *html.Node, matches map[*html.Node]crawler.MenuItem) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := matches[c]; ok {
			return true
		}
		if hasMatchingDescendant(c, matches) {
			return true
		}
	}
	return false
}

// genericLine splits "Caesar Salad $12 fresh romaine" into a name, a price
// and a trailing description.
func genericLine(text string) (crawler.MenuItem, bool) {
	line := collapse(text)
	if line == "" || len([]rune(line)) > maxGenericLine {
		return crawler.MenuItem{}, false
	}
	loc := currencyAmount.FindStringIndex(line)
	if loc == nil || (loc[1] < len(line) && isDigit(line[loc[1]])) {
		return crawler.MenuItem{}, false
	}
	name := strings.Trim(line[:loc[0]], lineSeparators)
	if name == "" || len([]rune(name)) > maxGenericName {
		return crawler.MenuItem{}, false
	}
	amount := line[loc[0]:loc[1]]
	price, ok := parseAmount(amount)
	if !ok {
		return crawler.MenuItem{}, false
	}
	return crawler.MenuItem{
		Name:        name,
		Description: strings.Trim(line[loc[1]:], lineSeparators),
		Price:       floatPtr(price),
		Currency:    currencyOf(amount, DefaultCurrency),
	}, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
