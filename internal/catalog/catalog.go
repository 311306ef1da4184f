// Package catalog loads the document schema and rule registry used by the
// classifier, extractor, reconciler and rules engine.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

type file struct {
	HeuristicThreshold      float64               `yaml:"heuristic_threshold"`
	CompositionTolerance    float64               `yaml:"composition_tolerance"`
	DefaultNumericTolerance float64               `yaml:"default_numeric_tolerance"`
	DefaultProductGroup     string                `yaml:"default_product_group"`
	DocTypes                []domain.DocSchema    `yaml:"doc_types"`
	Fields                  []domain.FieldSpec    `yaml:"fields"`
	ProductGroups           []domain.ProductGroup `yaml:"product_groups"`
}

// Default returns the embedded catalog.
func Default() (*domain.Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*domain.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

func Parse(data []byte) (*domain.Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: payload is empty")
	}
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	cat := &domain.Catalog{
		HeuristicThreshold:      raw.HeuristicThreshold,
		CompositionTolerance:    raw.CompositionTolerance,
		DefaultNumericTolerance: raw.DefaultNumericTolerance,
		DefaultProductGroup:     raw.DefaultProductGroup,
		Schemas:                 make(map[domain.DocType]domain.DocSchema, len(raw.DocTypes)),
		Fields:                  make(map[string]domain.FieldSpec, len(raw.Fields)),
		ProductGroups:           make(map[string]domain.ProductGroup, len(raw.ProductGroups)),
	}
	if cat.HeuristicThreshold <= 0 {
		cat.HeuristicThreshold = 0.80
	}
	if cat.CompositionTolerance <= 0 {
		cat.CompositionTolerance = 1.0
	}
	if cat.DefaultNumericTolerance <= 0 {
		cat.DefaultNumericTolerance = 0.02
	}

	for _, schema := range raw.DocTypes {
		if _, ok := domain.ParseDocType(string(schema.DocType)); !ok {
			return nil, fmt.Errorf("catalog: unknown doc_type %q", schema.DocType)
		}
		if _, dup := cat.Schemas[schema.DocType]; dup {
			return nil, fmt.Errorf("catalog: duplicate doc_type %q", schema.DocType)
		}
		for i, kw := range schema.Keywords {
			schema.Keywords[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		cat.Schemas[schema.DocType] = schema
	}
	for _, spec := range raw.Fields {
		if spec.Key == "" {
			return nil, fmt.Errorf("catalog: field spec without key")
		}
		switch spec.Kind {
		case domain.KindString, domain.KindNumber, domain.KindPercent, domain.KindDate:
		case "":
			spec.Kind = domain.KindString
		default:
			return nil, fmt.Errorf("catalog: field %s: unknown kind %q", spec.Key, spec.Kind)
		}
		cat.Fields[spec.Key] = spec
	}
	for _, group := range raw.ProductGroups {
		for _, t := range group.RequiredDocTypes {
			if _, ok := domain.ParseDocType(string(t)); !ok {
				return nil, fmt.Errorf("catalog: product group %s: unknown doc_type %q", group.Name, t)
			}
		}
		cat.ProductGroups[group.Name] = group
	}
	if cat.DefaultProductGroup != "" {
		if _, ok := cat.ProductGroups[cat.DefaultProductGroup]; !ok {
			return nil, fmt.Errorf("catalog: default product group %q is not defined", cat.DefaultProductGroup)
		}
	}
	return cat, nil
}
