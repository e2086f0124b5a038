// Package catalog holds the component definitions the builder and runtime read
// to validate content and to know which events a component type emits.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

// AnyChild in AllowedChildren accepts every non-root component type.
const AnyChild = "*"

type FieldDef struct {
	Name        string    `yaml:"name" json:"name"`
	Kind        FieldKind `yaml:"kind" json:"kind"`
	Default     string    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string    `yaml:"desc,omitempty" json:"desc,omitempty"`
	Options     []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

type EventDef struct {
	Description string `yaml:"desc,omitempty" json:"desc,omitempty"`
	// BindingValue is emitted once on mount when the component is bound to state.
	BindingValue any `yaml:"bindingValue,omitempty" json:"bindingValue,omitempty"`
}

type Definition struct {
	Type            string              `yaml:"-" json:"type"`
	Name            string              `yaml:"name" json:"name"`
	Category        string              `yaml:"category" json:"category"`
	Description     string              `yaml:"desc,omitempty" json:"desc,omitempty"`
	PreviewField    string              `yaml:"previewField,omitempty" json:"previewField,omitempty"`
	AllowedChildren []string            `yaml:"allowedChildren,omitempty" json:"allowedChildren,omitempty"`
	Fields          map[string]FieldDef `yaml:"fields,omitempty" json:"fields,omitempty"`
	Events          map[string]EventDef `yaml:"events,omitempty" json:"events,omitempty"`
}

// Accepts reports whether a component of childType may be placed under this definition.
func (d Definition) Accepts(childType string) bool {
	for _, allowed := range d.AllowedChildren {
		if allowed == AnyChild || allowed == childType {
			return true
		}
	}
	return false
}

// Field returns the definition of a content field.
func (d Definition) Field(key string) (FieldDef, bool) {
	field, ok := d.Fields[key]
	return field, ok
}

type Catalog struct {
	defs map[string]Definition
}

type document struct {
	Components map[string]Definition `yaml:"components"`
}

func New(defs map[string]Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for typ, def := range defs {
		def.Type = typ
		c.defs[typ] = def
	}
	return c
}

// Parse decodes a YAML catalog and validates every field kind it declares.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Components) == 0 {
		return nil, fmt.Errorf("decode catalog: no components declared")
	}
	for typ, def := range doc.Components {
		for key, field := range def.Fields {
			if !field.Kind.Valid() {
				return nil, fmt.Errorf("catalog %s.%s: unknown field kind %q", typ, key, field.Kind)
			}
			if err := ValidateField(field.Kind, field.Default); err != nil {
				return nil, fmt.Errorf("catalog %s.%s default: %w", typ, key, err)
			}
		}
	}
	return New(doc.Components), nil
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Builtin returns the catalog embedded in the binary.
func Builtin() *Catalog {
	c, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

func (c *Catalog) Definition(typ string) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	def, ok := c.defs[typ]
	return def, ok
}

func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.defs))
	for typ := range c.defs {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
