package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()

	root, ok := c.Definition("root")
	if !ok {
		t.Fatal("expected root definition")
	}
	if !root.Accepts("page") || root.Accepts("text") {
		t.Fatalf("root should only accept pages, got %v", root.AllowedChildren)
	}

	page, ok := c.Definition("page")
	if !ok || !page.Accepts("text") {
		t.Fatalf("page should accept any child, got %+v", page)
	}

	text, ok := c.Definition("text")
	if !ok {
		t.Fatal("expected text definition")
	}
	if text.Type != "text" || text.PreviewField != "text" {
		t.Fatalf("unexpected text definition: %+v", text)
	}
	if text.Accepts("button") {
		t.Fatal("text components should not accept children")
	}

	input, _ := c.Definition("textinput")
	if _, ok := input.Events["change"]; !ok {
		t.Fatalf("expected change event on textinput, got %v", input.Events)
	}

	if _, ok := c.Definition("missing"); ok {
		t.Fatal("unexpected definition for unknown type")
	}
	types := c.Types()
	if len(types) == 0 || types[0] > types[len(types)-1] {
		t.Fatalf("expected sorted types, got %v", types)
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`
components:
  widget:
    name: Widget
    fields:
      size:
        kind: enormous
`))
	if err == nil || !strings.Contains(err.Error(), "unknown field kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestParseRejectsInvalidDefault(t *testing.T) {
	_, err := Parse([]byte(`
components:
  widget:
    name: Widget
    fields:
      size:
        kind: number
        default: large
`))
	if err == nil {
		t.Fatal("expected invalid default to be rejected")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
components:
  root:
    name: Root
    allowedChildren: [card]
  card:
    name: Card
    category: Layout
    fields:
      tint:
        kind: color
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	card, ok := c.Definition("card")
	if !ok || card.Fields["tint"].Kind != KindColor {
		t.Fatalf("unexpected card definition: %+v", card)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateField(t *testing.T) {
	cases := []struct {
		name  string
		kind  FieldKind
		raw   string
		valid bool
	}{
		{name: "empty always valid", kind: KindNumber, raw: "", valid: true},
		{name: "template skips validation", kind: KindNumber, raw: "@{counter}", valid: true},
		{name: "number", kind: KindNumber, raw: "12.5", valid: true},
		{name: "not a number", kind: KindNumber, raw: "twelve", valid: false},
		{name: "boolean yes", kind: KindBoolean, raw: "yes", valid: true},
		{name: "boolean junk", kind: KindBoolean, raw: "maybe", valid: false},
		{name: "object", kind: KindObject, raw: `{"a": [1, 2]}`, valid: true},
		{name: "broken object", kind: KindObject, raw: `{"a": `, valid: false},
		{name: "key value", kind: KindKeyValue, raw: `{"a": "A"}`, valid: true},
		{name: "key value non string", kind: KindKeyValue, raw: `{"a": 1}`, valid: false},
		{name: "hex color", kind: KindColor, raw: "#ff00aa", valid: true},
		{name: "rgb color", kind: KindColor, raw: "rgb(1, 2, 3)", valid: true},
		{name: "bad color", kind: KindColor, raw: "#ff00a", valid: false},
		{name: "binding path", kind: KindBinding, raw: "nested.c.e", valid: true},
		{name: "escaped binding path", kind: KindBinding, raw: `files\.txt.size`, valid: true},
		{name: "bad binding path", kind: KindBinding, raw: "a..b", valid: false},
		{name: "free text", kind: KindText, raw: "anything goes", valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateField(tc.kind, tc.raw)
			if (err == nil) != tc.valid {
				t.Fatalf("ValidateField(%q, %q) = %v, want valid=%v", tc.kind, tc.raw, err, tc.valid)
			}
		})
	}
}
