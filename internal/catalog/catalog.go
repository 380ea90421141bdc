// Package catalog holds the enumerated surface categories a classifier can
// emit, together with their display colours.
package catalog

import (
	"fmt"
	"image/color"
	"strings"
)

// Unlabeled marks a pixel or tile without a category.
const Unlabeled = -1

// Category is one class of the classifier output
type Category struct {
	ID          int         `json:"id" mapstructure:"id"`
	Code        string      `json:"code" mapstructure:"code"`
	Name        string      `json:"name" mapstructure:"name"`
	Color       color.NRGBA `json:"-" mapstructure:"-"`
	Hex         string      `json:"color" mapstructure:"color"`
	Interesting bool        `json:"interesting" mapstructure:"interesting"`
}

// Catalog is an immutable, ID-indexed category list
type Catalog struct {
	byID   map[int]Category
	byCode map[string]Category
	order  []int
}

// New builds a catalog, rejecting duplicate IDs or codes and malformed colours.
func New(categories []Category) (*Catalog, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("catalog: no categories")
	}

	c := &Catalog{
		byID:   make(map[int]Category, len(categories)),
		byCode: make(map[string]Category, len(categories)),
	}
	for _, cat := range categories {
		if cat.ID < 0 {
			return nil, fmt.Errorf("catalog: category %q has negative id %d", cat.Code, cat.ID)
		}
		if cat.Code == "" {
			return nil, fmt.Errorf("catalog: category %d has no code", cat.ID)
		}
		if _, ok := c.byID[cat.ID]; ok {
			return nil, fmt.Errorf("catalog: duplicate id %d", cat.ID)
		}
		code := strings.ToLower(cat.Code)
		if _, ok := c.byCode[code]; ok {
			return nil, fmt.Errorf("catalog: duplicate code %q", cat.Code)
		}
		if cat.Hex != "" {
			col, err := ParseHex(cat.Hex)
			if err != nil {
				return nil, fmt.Errorf("catalog: category %q: %w", cat.Code, err)
			}
			cat.Color = col
		} else {
			cat.Hex = FormatHex(cat.Color)
		}
		c.byID[cat.ID] = cat
		c.byCode[code] = cat
		c.order = append(c.order, cat.ID)
	}
	return c, nil
}

// Default returns the fifteen Mars surface classes.
func Default() *Catalog {
	c, err := New(DefaultCategories())
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCategories lists the Mars surface classes in model output order.
func DefaultCategories() []Category {
	return []Category{
		{ID: 0, Code: "aec", Name: "Aeolian curved", Hex: "#1f77b4", Interesting: true},
		{ID: 1, Code: "ael", Name: "Aeolian straight", Hex: "#aec7e8", Interesting: true},
		{ID: 2, Code: "cli", Name: "Cliff", Hex: "#ff7f0e", Interesting: true},
		{ID: 3, Code: "cra", Name: "Crater", Hex: "#ffbb78", Interesting: true},
		{ID: 4, Code: "fse", Name: "Slope streaks", Hex: "#2ca02c"},
		{ID: 5, Code: "fsf", Name: "Channel", Hex: "#98df8a", Interesting: true},
		{ID: 6, Code: "fsg", Name: "Gullies", Hex: "#d62728"},
		{ID: 7, Code: "fss", Name: "Mass wasting", Hex: "#ff9896"},
		{ID: 8, Code: "mix", Name: "Mixed terrain", Hex: "#9467bd"},
		{ID: 9, Code: "rid", Name: "Ridge", Hex: "#c5b0d5", Interesting: true},
		{ID: 10, Code: "rou", Name: "Rough terrain", Hex: "#8c564b"},
		{ID: 11, Code: "sfe", Name: "Mounds", Hex: "#c49c94"},
		{ID: 12, Code: "sfx", Name: "Crater field", Hex: "#e377c2"},
		{ID: 13, Code: "smo", Name: "Smooth terrain", Hex: "#f7b6d2"},
		{ID: 14, Code: "tex", Name: "Textured terrain", Hex: "#7f7f7f"},
	}
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Lookup returns the category with the given ID.
func (c *Catalog) Lookup(id int) (Category, bool) {
	cat, ok := c.byID[id]
	return cat, ok
}

// ByCode returns the category with the given code, case-insensitively.
func (c *Catalog) ByCode(code string) (Category, bool) {
	cat, ok := c.byCode[strings.ToLower(code)]
	return cat, ok
}

// Code returns the code for id, or "" when unknown.
func (c *Catalog) Code(id int) string {
	return c.byID[id].Code
}

// Color returns the display colour for id. Unknown IDs are transparent.
func (c *Catalog) Color(id int) color.NRGBA {
	return c.byID[id].Color
}

// All returns the categories in declaration order.
func (c *Catalog) All() []Category {
	out := make([]Category, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Interesting returns the categories flagged as interesting.
func (c *Catalog) Interesting() []Category {
	var out []Category
	for _, id := range c.order {
		if cat := c.byID[id]; cat.Interesting {
			out = append(out, cat)
		}
	}
	return out
}

// ParseHex parses "#rrggbb" into an opaque colour.
func ParseHex(s string) (color.NRGBA, error) {
	var r, g, b uint8
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// FormatHex renders c as "#rrggbb".
func FormatHex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
