// Package resolver infers a display category from a free-text download path.
package resolver

import (
	"strings"

	"go-civitai-companion/internal/models"
)

// Rule forces Category when Match reports true for a path.
type Rule struct {
	Name     string
	Match    func(path string) bool
	Category string
}

// Contains builds a substring Rule.
func Contains(substr, category string) Rule {
	return Rule{
		Name:     "contains " + substr,
		Match:    func(path string) bool { return strings.Contains(path, substr) },
		Category: category,
	}
}

// Resolver maps download paths to categories. Rules are ordered highest priority
// first and the first matching rule wins over the base match.
type Resolver struct {
	categories []string
	rules      []Rule
}

// New builds a Resolver. The slices are copied.
func New(categories []string, rules []Rule) *Resolver {
	return &Resolver{
		categories: append([]string(nil), categories...),
		rules:      append([]Rule(nil), rules...),
	}
}

// FromConfig builds a Resolver from the configured categories and rules.
func FromConfig(categories []string, configured []models.CategoryRule) *Resolver {
	rules := make([]Rule, 0, len(configured))
	for _, r := range configured {
		rules = append(rules, Contains(r.Contains, r.Category))
	}
	return New(categories, rules)
}

// Resolve returns the category for downloadFilePath, or "" when nothing matches.
func (r *Resolver) Resolve(downloadFilePath string) string {
	category := BaseMatch(downloadFilePath, r.categories)
	for _, rule := range r.rules {
		if rule.Match(downloadFilePath) {
			return rule.Category
		}
	}
	return category
}

// Categories returns the known categories.
func (r *Resolver) Categories() []string {
	return append([]string(nil), r.categories...)
}

// BaseMatch returns the known category that occurs earliest in path.
// When two categories start at the same index the longer one wins, so
// "Artist" beats "Art" for ".../Artist/...".
func BaseMatch(path string, categories []string) string {
	best := ""
	bestIdx := -1
	for _, c := range categories {
		if c == "" {
			continue
		}
		idx := strings.Index(path, c)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(c) > len(best)) {
			best, bestIdx = c, idx
		}
	}
	return best
}
