package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trade-evidence/internal/catalog"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the document schema catalog",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Parse a catalog file (or the embedded default) and print a summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.CatalogPath
		if len(args) == 1 {
			path = args[0]
		}
		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summarizeCatalog(cat))
	},
}

type catalogSummary struct {
	DocTypes      []string `json:"doc_types"`
	Fields        int      `json:"fields"`
	ProductGroups []string `json:"product_groups"`
	DefaultGroup  string   `json:"default_product_group"`
}

func summarizeCatalog(cat *domain.Catalog) catalogSummary {
	out := catalogSummary{
		Fields:       len(cat.Fields),
		DefaultGroup: cat.DefaultProductGroup,
	}
	for t := range cat.Schemas {
		out.DocTypes = append(out.DocTypes, string(t))
	}
	for name := range cat.ProductGroups {
		out.ProductGroups = append(out.ProductGroups, name)
	}
	sort.Strings(out.DocTypes)
	sort.Strings(out.ProductGroups)
	return out
}

var catalogDocTypesCmd = &cobra.Command{
	Use:   "doc-types",
	Short: "List document types known to the embedded catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		return writeDocTypes(cmd.OutOrStdout(), cat)
	},
}

func writeDocTypes(w io.Writer, cat *domain.Catalog) error {
	for _, t := range domain.AllDocTypes {
		schema, ok := cat.Schema(t)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%d keys\n", t, len(schema.Keys)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd, catalogDocTypesCmd)
	rootCmd.AddCommand(catalogCmd)
}
