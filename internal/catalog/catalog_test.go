package catalog

import (
	"image/color"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Len() != 15 {
		t.Fatalf("Expected 15 categories, got %d", c.Len())
	}

	cra, ok := c.ByCode("CRA")
	if !ok {
		t.Fatal("Expected crater category")
	}
	if cra.ID != 3 || cra.Color != (color.NRGBA{255, 187, 120, 255}) {
		t.Errorf("Unexpected crater category: %+v", cra)
	}

	if c.Code(9) != "rid" {
		t.Errorf("Expected id 9 to be rid, got %q", c.Code(9))
	}

	interesting := c.Interesting()
	if len(interesting) != 6 {
		t.Errorf("Expected 6 interesting categories, got %d", len(interesting))
	}
}

func TestNew_Rejects(t *testing.T) {
	cases := map[string][]Category{
		"empty":          nil,
		"duplicate id":   {{ID: 0, Code: "a"}, {ID: 0, Code: "b"}},
		"duplicate code": {{ID: 0, Code: "a"}, {ID: 1, Code: "A"}},
		"missing code":   {{ID: 0}},
		"bad colour":     {{ID: 0, Code: "a", Hex: "red"}},
		"negative id":    {{ID: -1, Code: "a"}},
	}
	for name, cats := range cases {
		if _, err := New(cats); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHexRoundTrip(t *testing.T) {
	col, err := ParseHex("#1f77b4")
	if err != nil {
		t.Fatalf("ParseHex failed: %v", err)
	}
	if col != (color.NRGBA{31, 119, 180, 255}) {
		t.Errorf("Unexpected colour %+v", col)
	}
	if FormatHex(col) != "#1f77b4" {
		t.Errorf("Expected #1f77b4, got %s", FormatHex(col))
	}
}
