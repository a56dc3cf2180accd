// Package menuurl guesses which pages of a restaurant site carry its menu.
package menuurl

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// MaxURLs is the most menu pages returned per site.
const MaxURLs = 2

// Suffixes are probed against the site origin in order.
var Suffixes = []string{
	"/menu",
	"/menus",
	"/our-menu",
	"/food",
	"/food-menu",
	"/dinner-menu",
	"/lunch-menu",
	"/carta",
}

// Keywords mark anchor text as menu-indicative. A word matches when it
// starts with a keyword.
var Keywords = []string{"menu", "food", "dinner", "lunch", "brunch", "carta", "eat"}

// Page is a discovered menu URL. Outcome is set when discovery already
// fetched the page while probing.
type Page struct {
	URL     string
	Outcome *crawler.FetchOutcome
}

// Discoverer finds up to MaxURLs menu pages for a homepage. Every request
// goes through the gated fetcher.
type Discoverer struct {
	fetcher crawler.GatedFetcher
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(fetcher crawler.GatedFetcher, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, logger: logger.Named("menuurl")}
}

// Discover returns 0..MaxURLs menu URLs. It never fails; an unusable
// homepage or a site with nothing plausible yields an empty list.
func (d *Discoverer) Discover(ctx context.Context, homepage string) []string {
	pages := d.Find(ctx, homepage)
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return urls
}

// Find is Discover that also hands back probe responses so callers can
// parse them without fetching twice.
func (d *Discoverer) Find(ctx context.Context, homepage string) []Page {
	home, err := crawler.NormalizeURL(homepage)
	if err != nil {
		d.logger.Debug("unusable homepage", zap.String("homepage", homepage), zap.Error(err))
		return nil
	}
	origin, err := crawler.Origin(home)
	if err != nil {
		return nil
	}

	found := newPageSet()
probing:
	for _, suffix := range Suffixes {
		if found.len() >= MaxURLs {
			return found.pages
		}
		probe := origin + suffix
		outcome, err := d.fetcher.Fetch(ctx, probe)
		switch {
		case errors.Is(err, crawler.ErrBudgetExhausted):
			return found.pages
		case errors.Is(err, crawler.ErrPageCapReached):
			// The homepage may still fit under the cap.
			break probing
		case err != nil:
			continue
		}
		if !outcome.OK() {
			continue
		}
		found.add(probe, outcome.FinalURL, &outcome)
	}
	if found.len() >= MaxURLs {
		return found.pages
	}

	outcome, err := d.fetcher.Fetch(ctx, home)
	if err != nil || !outcome.OK() {
		return found.pages
	}
	base := home
	if outcome.FinalURL != "" {
		base = outcome.FinalURL
	}
	for _, link := range menuLinks(outcome.Body, base) {
		if found.len() >= MaxURLs {
			break
		}
		if link == home {
			continue
		}
		found.add(link, "", nil)
	}
	return found.pages
}

// menuLinks returns same-site anchors whose text looks like a menu link,
// normalized and in document order.
func menuLinks(body []byte, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if title, ok := s.Attr("title"); ok {
			text += " " + title
		}
		if !menuText(text) {
			return
		}
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !sameSite(baseURL.Hostname(), abs.Hostname()) {
			return
		}
		normalized, err := crawler.NormalizeURL(abs.String())
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}

func menuText(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		for _, kw := range Keywords {
			if strings.HasPrefix(w, kw) {
				return true
			}
		}
	}
	return false
}

// sameSite compares registrable domains, so www.example.com and
// order.example.com match.
func sameSite(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(a)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}

type pageSet struct {
	pages []Page
	seen  map[string]struct{}
}

func newPageSet() *pageSet {
	return &pageSet{seen: make(map[string]struct{})}
}

func (p *pageSet) len() int { return len(p.pages) }

func (p *pageSet) add(rawURL, finalURL string, outcome *crawler.FetchOutcome) {
	if _, ok := p.seen[rawURL]; ok {
		return
	}
	if finalURL != "" {
		if normalized, err := crawler.NormalizeURL(finalURL); err == nil {
			if _, ok := p.seen[normalized]; ok {
				return
			}
			p.seen[normalized] = struct{}{}
		}
	}
	p.seen[rawURL] = struct{}{}
	p.pages = append(p.pages, Page{URL: rawURL, Outcome: outcome})
}
