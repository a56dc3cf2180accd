package parser

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

//go:embed platforms.yaml
var defaultPlatforms []byte

const maxPlatformName = 120

// Detection decides whether a page was built with a platform. Contains
// entries are matched against the raw HTML (any one suffices); Selector must
// match at least one node.
type Detection struct {
	Contains []string `yaml:"contains"`
	Selector string   `yaml:"selector"`
}

// Fingerprint describes where a site builder puts menu fields.
type Fingerprint struct {
	Name         string    `yaml:"name"`
	Detect       Detection `yaml:"detect"`
	Item         string    `yaml:"item"`
	ItemName     string    `yaml:"item_name"`
	Price        string    `yaml:"price"`
	Description  string    `yaml:"description"`
	Section      string    `yaml:"section"`
	SectionTitle string    `yaml:"section_title"`
}

type fingerprintFile struct {
	Platforms []Fingerprint `yaml:"platforms"`
}

// DefaultFingerprints returns the embedded fingerprint table.
func DefaultFingerprints() ([]Fingerprint, error) {
	return ParseFingerprints(defaultPlatforms)
}

// LoadFingerprints reads a fingerprint table from a YAML file.
func LoadFingerprints(path string) ([]Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprints: %w", err)
	}
	return ParseFingerprints(data)
}

// ParseFingerprints decodes a fingerprint table.
func ParseFingerprints(data []byte) ([]Fingerprint, error) {
	var file fingerprintFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fingerprints: %w", err)
	}
	for i, fp := range file.Platforms {
		if fp.Name == "" || fp.Item == "" || fp.ItemName == "" {
			return nil, fmt.Errorf("fingerprint %d: name, item and item_name are required", i)
		}
		if fp.Detect.Selector == "" && len(fp.Detect.Contains) == 0 {
			return nil, fmt.Errorf("fingerprint %q: detection is empty", fp.Name)
		}
	}
	return file.Platforms, nil
}

// Platform extracts items using site builder fingerprints.
type Platform struct {
	fingerprints []Fingerprint
}

// NewPlatform returns the platform strategy.
func NewPlatform(fingerprints []Fingerprint) *Platform {
	return &Platform{fingerprints: fingerprints}
}

// Name implements Strategy.
func (*Platform) Name() string { return crawler.SourcePlatform }

// Confidence implements Strategy.
func (*Platform) Confidence() float64 { return PlatformConfidence }

// Extract implements Strategy.
func (p *Platform) Extract(doc *goquery.Document, raw []byte) []crawler.MenuItem {
	_, items := p.match(doc, raw)
	return items
}

// Detected names the fingerprint Extract takes its items from, or "" when
// no fingerprint both matches the page and yields items.
func (p *Platform) Detected(doc *goquery.Document, raw []byte) string {
	name, _ := p.match(doc, raw)
	return name
}

func (p *Platform) match(doc *goquery.Document, raw []byte) (string, []crawler.MenuItem) {
	lowered := bytes.ToLower(raw)
	for _, fp := range p.fingerprints {
		if !fp.detected(doc, lowered) {
			continue
		}
		if items := fp.extract(doc); len(items) > 0 {
			return fp.Name, items
		}
	}
	return "", nil
}

func (fp Fingerprint) detected(doc *goquery.Document, lowered []byte) bool {
	if len(fp.Detect.Contains) > 0 {
		found := false
		for _, needle := range fp.Detect.Contains {
			if bytes.Contains(lowered, bytes.ToLower([]byte(needle))) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if fp.Detect.Selector != "" && doc.Find(fp.Detect.Selector).Length() == 0 {
		return false
	}
	return true
}

func (fp Fingerprint) extract(doc *goquery.Document) []crawler.MenuItem {
	var items []crawler.MenuItem
	doc.Find(fp.Item).Each(func(_ int, s *goquery.Selection) {
		name := collapse(s.Find(fp.ItemName).First().Text())
		if name == "" || len(name) > maxPlatformName {
			return
		}
		item := crawler.MenuItem{
			Name:     name,
			Currency: DefaultCurrency,
		}
		if fp.Description != "" {
			item.Description = collapse(s.Find(fp.Description).First().Text())
		}
		if fp.Price != "" {
			priceText := collapse(s.Find(fp.Price).First().Text())
			if v, ok := parseAmount(priceText); ok {
				item.Price = floatPtr(v)
				item.Currency = currencyOf(priceText, DefaultCurrency)
			}
		}
		if fp.Section != "" && fp.SectionTitle != "" {
			item.Section = collapse(s.Closest(fp.Section).Find(fp.SectionTitle).First().Text())
		}
		items = append(items, item)
	})
	return items
}
