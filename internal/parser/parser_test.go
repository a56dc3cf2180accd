package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/scoring"
)

const margheritaPage = `<html><head>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "MenuItem", "name": "Margherita Pizza",
 "offers": {"@type": "Offer", "price": "14.00", "priceCurrency": "USD"}}
</script>
</head><body><p>Garlic Knots $6</p></body></html>`

func newCascade(t *testing.T) *Cascade {
	t.Helper()
	c, err := Default()
	require.NoError(t, err)
	return c
}

func TestCascadeStructuredItem(t *testing.T) {
	t.Parallel()

	res := newCascade(t).Parse([]byte(margheritaPage))

	require.Len(t, res.Items, 1, "structured results must not be mixed with generic ones")
	assert.Equal(t, crawler.SourceStructured, res.Source)
	assert.Equal(t, 0.95, res.Confidence)

	item := res.Items[0]
	assert.Equal(t, "Margherita Pizza", item.Name)
	require.NotNil(t, item.Price)
	assert.Equal(t, 14.0, *item.Price)
	assert.Equal(t, "USD", item.Currency)
	assert.Equal(t, 0.95, item.Confidence)
}

func TestCascadeGenericItem(t *testing.T) {
	t.Parallel()

	for name, page := range map[string]string{
		"paragraph": `<html><body><p>Caesar Salad $12 fresh romaine</p></body></html>`,
		"bare text": `Caesar Salad $12 fresh romaine`,
		"nested":    `<div><div><span>Caesar Salad $12 fresh romaine</span></div></div>`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := newCascade(t).Parse([]byte(page))

			require.Len(t, res.Items, 1)
			assert.Equal(t, crawler.SourceGeneric, res.Source)
			assert.Equal(t, 0.6, res.Confidence)
			item := res.Items[0]
			assert.Equal(t, "Caesar Salad", item.Name)
			require.NotNil(t, item.Price)
			assert.Equal(t, 12.0, *item.Price)
			assert.Equal(t, "fresh romaine", item.Description)
			assert.Equal(t, 0.6, item.Confidence)
		})
	}
}

func TestCascadePlatformItems(t *testing.T) {
	t.Parallel()

	page := `<html><head><link href="https://static1.squarespace.com/site.css"></head><body>
	<div class="menu-block">
	  <div class="menu-section">
	    <div class="menu-section-title">Starters</div>
	    <div class="menu-item">
	      <div class="menu-item-title">Burrata</div>
	      <div class="menu-item-price-top">€14,50</div>
	      <div class="menu-item-description">Heirloom tomato, basil</div>
	    </div>
	    <div class="menu-item">
	      <div class="menu-item-title">Olives</div>
	    </div>
	  </div>
	</div></body></html>`

	res := newCascade(t).Parse([]byte(page))
	require.Len(t, res.Items, 2)
	assert.Equal(t, crawler.SourcePlatform, res.Source)
	assert.Equal(t, "squarespace", res.Platform)
	assert.Equal(t, 0.8, res.Confidence)

	burrata := res.Items[0]
	assert.Equal(t, "Burrata", burrata.Name)
	assert.Equal(t, "Starters", burrata.Section)
	assert.Equal(t, "Heirloom tomato, basil", burrata.Description)
	require.NotNil(t, burrata.Price)
	assert.Equal(t, 14.5, *burrata.Price)
	assert.Equal(t, "EUR", burrata.Currency)
	assert.Contains(t, burrata.Allergens, "dairy")

	assert.Equal(t, "Olives", res.Items[1].Name)
	assert.Nil(t, res.Items[1].Price)
	assert.Equal(t, "USD", res.Items[1].Currency)
}

func TestCascadeEmpty(t *testing.T) {
	t.Parallel()

	res := newCascade(t).Parse([]byte(`<html><body><h1>Welcome</h1><p>Open daily</p></body></html>`))
	assert.True(t, res.Empty())
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Source)
}

func TestCascadeDeterministic(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><head><script type="application/ld+json">
	{"@type": "Menu", "hasMenuSection": [
	  {"@type": "MenuSection", "name": "Mains", "hasMenuItem": [
	    {"@type": "MenuItem", "name": "Tofu Bowl", "suitableForDiet": "https://schema.org/VeganDiet",
	     "offers": {"price": 13, "priceCurrency": "usd"}},
	    {"@type": "MenuItem", "name": "Steak Frites", "offers": [{"price": "29.5"}]}
	  ]},
	  {"@type": "MenuSection", "name": "Sides", "hasMenuItem": {"@type": "MenuItem", "name": "Fries"}}
	]}</script></head></html>`)

	c := newCascade(t)
	first := c.Parse(page)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Parse(page))
	}
	require.Len(t, first.Items, 3)
	assert.Equal(t, "Mains", first.Items[0].Section)
	assert.Equal(t, []string{"vegan"}, first.Items[0].Tags)
	assert.Equal(t, []string{"soy"}, first.Items[0].Allergens)
	assert.Equal(t, "USD", first.Items[0].Currency)
	assert.Equal(t, 29.5, *first.Items[1].Price)
	assert.Equal(t, "Sides", first.Items[2].Section)
	assert.Nil(t, first.Items[2].Price)
}

func TestStructuredSkipsMalformedBlocks(t *testing.T) {
	t.Parallel()

	page := `<script type="application/ld+json">{not json</script>
	<script type="application/ld+json">{"@graph": [{"@type": ["Thing", "MenuItem"], "name": "Soup of the Day"}]}</script>`
	res := newCascade(t).Parse([]byte(page))
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Soup of the Day", res.Items[0].Name)
	assert.Equal(t, crawler.SourceStructured, res.Source)
}

func TestGenericCapsItems(t *testing.T) {
	t.Parallel()

	page := "<ul>"
	for i := 0; i < 80; i++ {
		page += "<li>Dish " + string(rune('A'+i%26)) + " $9.99</li>"
	}
	page += "</ul>"

	res := newCascade(t).Parse([]byte(page))
	assert.Len(t, res.Items, maxGenericItems)
}

func TestStructuredCurrencyMustBeISOCode(t *testing.T) {
	t.Parallel()

	page := `<script type="application/ld+json">[
	 {"@type": "MenuItem", "name": "Bibimbap", "offers": {"price": 16, "priceCurrency": "US$"}},
	 {"@type": "MenuItem", "name": "Kimchi Jjigae", "offers": {"price": 15, "priceCurrency": " cad "}},
	 {"@type": "MenuItem", "name": "Japchae", "offers": {"price": 14, "priceCurrency": "dollars"}}
	]</script>`

	res := newCascade(t).Parse([]byte(page))
	require.Len(t, res.Items, 3)
	assert.Empty(t, res.Platform)
	assert.Equal(t, DefaultCurrency, res.Items[0].Currency)
	assert.Equal(t, "CAD", res.Items[1].Currency)
	assert.Equal(t, DefaultCurrency, res.Items[2].Currency)
}

func TestGenericLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		name  string
		price float64
		desc  string
		ok    bool
	}{
		{line: "Caesar Salad $12 fresh romaine", name: "Caesar Salad", price: 12, desc: "fresh romaine", ok: true},
		{line: "Fish & Chips ........ £11.50", name: "Fish & Chips", price: 11.5, ok: true},
		{line: "Tortilla: €7,25", name: "Tortilla", price: 7.25, ok: true},
		{line: "Catering Tray $1,200.00", name: "Catering Tray", price: 1200, ok: true},
		{line: "Whole Lamb $1200", name: "Whole Lamb", price: 1200, ok: true},
		{line: "Wine $12.5 by the glass", name: "Wine", price: 12.5, desc: "by the glass", ok: true},
		{line: "Banquet €2.400,50", name: "Banquet", price: 2400.5, ok: true},
		{line: "Odd Tray $1,20000", ok: false},
		{line: "$12", ok: false},
		{line: "Call us for prices", ok: false},
	}
	for _, tt := range tests {
		item, ok := genericLine(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		if !ok {
			continue
		}
		assert.Equal(t, tt.name, item.Name)
		assert.InDelta(t, tt.price, *item.Price, 1e-9, tt.line)
		assert.Equal(t, tt.desc, item.Description, tt.line)
	}
}

func TestGenericLineLargeAmountFailsScoring(t *testing.T) {
	t.Parallel()

	item, ok := genericLine("Catering Tray $1,200.00")
	require.True(t, ok)
	item.Confidence = GenericConfidence

	cleaned := scoring.Default().Clean(item)
	assert.Nil(t, cleaned.Price)
	assert.InDelta(t, GenericConfidence-0.2, cleaned.Confidence, 1e-9)
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := map[string]float64{
		"14":        14,
		"14.00":     14,
		"14,50":     14.5,
		"$ 9.99":    9.99,
		"1,200.00":  1200,
		"1.200,50":  1200.5,
		"12.":       12,
		"USD 18.75": 18.75,
	}
	for in, want := range tests {
		got, ok := parseAmount(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	_, ok := parseAmount("market price")
	assert.False(t, ok)
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	item := crawler.MenuItem{Name: "Gluten free Penne", Description: "walnut pesto, parmesan, chili flakes"}
	enrich(&item)
	assert.Equal(t, []string{"gluten-free", "spicy"}, item.Tags)
	assert.Equal(t, []string{"dairy", "nuts"}, item.Allergens)
}

func TestParseFingerprintsValidation(t *testing.T) {
	t.Parallel()

	_, err := ParseFingerprints([]byte("platforms:\n  - name: broken\n    item: .x\n"))
	require.Error(t, err)

	fps, err := ParseFingerprints([]byte("platforms:\n  - name: custom\n    detect:\n      selector: .dish\n    item: .dish\n    item_name: .dish-name\n"))
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, ".dish-name", fps[0].ItemName)
}
