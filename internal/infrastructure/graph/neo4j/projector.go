package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// Statement is one parameterized Cypher write.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Runner executes statements in a single write transaction.
type Runner interface {
	RunWrite(ctx context.Context, statements []Statement) error
}

// Projector mirrors evidence lineage (supplier, case, document, page, canonical field) into a
// graph so reviewers can trace any buyer-visible value back to its page.
type Projector struct {
	runner Runner
}

func NewProjector(runner Runner) *Projector {
	return &Projector{runner: runner}
}

func (p *Projector) ProjectCase(ctx context.Context, c *domain.Case, docs []domain.Document, views []domain.CanonicalFieldView) error {
	if err := p.runner.RunWrite(ctx, caseStatements(c, docs, views)); err != nil {
		return fmt.Errorf("project case %s: %w", c.ID, err)
	}
	return nil
}

const (
	mergeCase = `MERGE (s:Supplier {id: $supplier_id})
MERGE (c:Case {id: $case_id})
SET c.reference_no = $reference_no, c.status = $status, c.product_group = $product_group
MERGE (s)-[:OWNS]->(c)`

	mergeDocument = `MATCH (c:Case {id: $case_id})
MERGE (d:Document {id: $document_id})
SET d.filename = $filename, d.doc_type = $doc_type, d.status = $status
MERGE (c)-[:HAS_DOCUMENT]->(d)`

	clearFields = `MATCH (c:Case {id: $case_id})-[r:RESOLVES]->(:CanonicalField)
DELETE r`

	mergeField = `MATCH (c:Case {id: $case_id})
MATCH (d:Document {id: $document_id})
MERGE (f:CanonicalField {case_id: $case_id, key: $key})
SET f.value = $value, f.unit = $unit, f.tier = $tier, f.visibility = $visibility, f.field_id = $field_id
MERGE (c)-[:RESOLVES]->(f)
MERGE (f)-[e:EVIDENCED_BY]->(d)
SET e.page = $page, e.snippet = $snippet`
)

func caseStatements(c *domain.Case, docs []domain.Document, views []domain.CanonicalFieldView) []Statement {
	out := []Statement{{
		Cypher: mergeCase,
		Params: map[string]any{
			"supplier_id":   c.SupplierID,
			"case_id":       c.ID,
			"reference_no":  c.ReferenceNo,
			"status":        string(c.Status),
			"product_group": c.ProductGroup,
		},
	}}
	for _, doc := range docs {
		out = append(out, Statement{
			Cypher: mergeDocument,
			Params: map[string]any{
				"case_id":     c.ID,
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"doc_type":    string(doc.DocType),
				"status":      string(doc.Status),
			},
		})
	}
	out = append(out, Statement{Cypher: clearFields, Params: map[string]any{"case_id": c.ID}})
	for _, v := range views {
		if !v.Resolved() {
			continue
		}
		w := v.Winner
		out = append(out, Statement{
			Cypher: mergeField,
			Params: map[string]any{
				"case_id":     c.ID,
				"document_id": w.DocumentID,
				"key":         v.CanonicalKey,
				"value":       w.Value,
				"unit":        w.Unit,
				"tier":        string(w.Tier),
				"visibility":  string(w.Visibility),
				"field_id":    w.ID,
				"page":        int64(w.Page),
				"snippet":     w.Snippet,
			},
		})
	}
	return out
}

// DriverRunner runs statements through the official driver.
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewDriverRunner(ctx context.Context, uri, user, password, database string) (*DriverRunner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &DriverRunner{driver: driver, database: database}, nil
}

func (r *DriverRunner) RunWrite(ctx context.Context, statements []Statement) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range statements {
			result, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (r *DriverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
