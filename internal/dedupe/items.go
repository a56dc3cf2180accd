// Package dedupe folds duplicate menu items and duplicate venues.
package dedupe

import (
	"strings"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

type itemKey struct {
	section string
	name    string
}

// Items drops items whose (section, case-folded name) was already seen.
// The first occurrence wins and order is preserved.
func Items(items []crawler.MenuItem) []crawler.MenuItem {
	seen := make(map[itemKey]struct{}, len(items))
	out := make([]crawler.MenuItem, 0, len(items))
	for _, item := range items {
		key := itemKey{section: item.Section, name: strings.ToLower(item.Name)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
