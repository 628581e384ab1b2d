// Package category holds the service catalogue that requests are filed under.
package category

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Default colours applied when a category is created without them.
const (
	DefaultColor     = "#3B82F6"
	DefaultTextColor = "#FFFFFF"
)

// Category is a top level service area such as plumbing or electrical work.
type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	Color        string    `json:"color"`
	TextColor    string    `json:"textColor"`
	IsActive     bool      `json:"isActive"`
	DisplayOrder int       `json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// Filled on reads.
	SubcategoryCount int `json:"subcategoryCount"`
	RequestCount     int `json:"requestCount"`
}

// Subcategory narrows a category. Slugs are unique within their category.
type Subcategory struct {
	ID           string    `json:"id"`
	CategoryID   string    `json:"categoryId"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description,omitempty"`
	Color        string    `json:"color,omitempty"`
	IsActive     bool      `json:"isActive"`
	DisplayOrder int       `json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases name, strips accents and joins words with dashes:
// "Elettricità & Domotica" becomes "elettricita-domotica".
func Slugify(name string) string {
	folded, _, err := transform.String(foldAccents, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Less orders categories by display order, then newest first.
func Less(a, b Category) bool {
	if a.DisplayOrder != b.DisplayOrder {
		return a.DisplayOrder < b.DisplayOrder
	}
	return a.CreatedAt.After(b.CreatedAt)
}
