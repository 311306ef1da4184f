package domain

import "sort"

type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindPercent FieldKind = "percent"
	KindDate    FieldKind = "date"
)

// FieldSpec describes how values of one canonical key are normalized and compared.
type FieldSpec struct {
	Key          string    `yaml:"key" json:"key"`
	Kind         FieldKind `yaml:"kind" json:"kind"`
	Tolerance    float64   `yaml:"tolerance" json:"tolerance,omitempty"`
	Family       string    `yaml:"family" json:"family,omitempty"`
	Addend       bool      `yaml:"addend" json:"addend,omitempty"`
	ValidityDate bool      `yaml:"validity_date" json:"validity_date,omitempty"`
}

func (s FieldSpec) Numeric() bool {
	return s.Kind == KindNumber || s.Kind == KindPercent
}

// DocSchema is the set of canonical keys a document type may yield, plus the
// keywords used by the heuristic classifier.
type DocSchema struct {
	DocType  DocType  `yaml:"doc_type" json:"doc_type"`
	Keys     []string `yaml:"keys" json:"keys"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

func (s DocSchema) Allows(key string) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

type ProductGroup struct {
	Name             string    `yaml:"name" json:"name"`
	RequiredDocTypes []DocType `yaml:"required_doc_types" json:"required_doc_types"`
	RequiredKeys     []string  `yaml:"required_keys" json:"required_keys"`
}

// Catalog is the read-only registry of schemas, field specs and product groups.
type Catalog struct {
	HeuristicThreshold      float64
	CompositionTolerance    float64
	DefaultNumericTolerance float64
	Schemas                 map[DocType]DocSchema
	Fields                  map[string]FieldSpec
	ProductGroups           map[string]ProductGroup
	DefaultProductGroup     string
}

func (c *Catalog) Schema(t DocType) (DocSchema, bool) {
	s, ok := c.Schemas[t]
	return s, ok
}

// Field returns the spec for key, defaulting to a plain string field.
func (c *Catalog) Field(key string) FieldSpec {
	if spec, ok := c.Fields[key]; ok {
		if spec.Numeric() && spec.Tolerance <= 0 {
			spec.Tolerance = c.DefaultNumericTolerance
		}
		return spec
	}
	return FieldSpec{Key: key, Kind: KindString}
}

func (c *Catalog) ProductGroup(name string) ProductGroup {
	if g, ok := c.ProductGroups[name]; ok {
		return g
	}
	if g, ok := c.ProductGroups[c.DefaultProductGroup]; ok {
		return g
	}
	return ProductGroup{Name: name}
}

// CompositionFamilies maps family name to its addend keys, sorted.
func (c *Catalog) CompositionFamilies() map[string][]string {
	out := make(map[string][]string)
	for key, spec := range c.Fields {
		if spec.Family == "" || !spec.Addend {
			continue
		}
		out[spec.Family] = append(out[spec.Family], key)
	}
	for family := range out {
		sort.Strings(out[family])
	}
	return out
}

// ValidityKeys lists the date keys that carry an expiry.
func (c *Catalog) ValidityKeys() []string {
	var keys []string
	for key, spec := range c.Fields {
		if spec.ValidityDate {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
