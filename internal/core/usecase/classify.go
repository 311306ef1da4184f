package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

const (
	filenameHitWeight    = 2
	textHitWeight        = 1
	filenameConfidence   = 0.85
	textConfidence       = 0.90
	ambiguousConfidence  = 0.60
	defaultClassifyPages = 2
	defaultClassifyChars = 2000
)

type heuristicGuess struct {
	docType    domain.DocType
	score      int
	density    float64
	confidence float64
}

type Classifier struct {
	catalog  *domain.Catalog
	du       ports.DocumentUnderstanding
	maxPages int
	maxChars int
}

func NewClassifier(catalog *domain.Catalog, du ports.DocumentUnderstanding, maxPages int) *Classifier {
	if maxPages <= 0 {
		maxPages = defaultClassifyPages
	}
	return &Classifier{
		catalog:  catalog,
		du:       du,
		maxPages: maxPages,
		maxChars: defaultClassifyChars,
	}
}

// Classify runs the keyword heuristic and falls back to the document
// understanding service when the heuristic is not confident enough.
func (c *Classifier) Classify(ctx context.Context, doc *domain.Document, pages []domain.PageText) (domain.Classification, error) {
	head := firstPages(pages, c.maxPages)
	guess, ok := c.heuristic(doc.Filename, head)
	if ok && guess.confidence >= c.catalog.HeuristicThreshold {
		return domain.Classification{
			DocType:    guess.docType,
			Method:     domain.MethodHeuristic,
			Confidence: guess.confidence,
		}, nil
	}

	if c.du == nil {
		if ok {
			return lowConfidenceGuess(guess), nil
		}
		return domain.Classification{}, withCode(domain.ErrorUnclassifiable, errors.New("no keyword match and no document understanding service"))
	}

	req := ports.ClassifyRequest{
		Filename:   doc.Filename,
		Pages:      truncatePages(head, c.maxChars),
		Candidates: domain.AllDocTypes,
	}
	res, err := c.du.Classify(ctx, req)
	if err != nil {
		return domain.Classification{}, withCode(domain.ErrorServiceUnavailable, fmt.Errorf("classify via document understanding: %w", err))
	}
	if docType, valid := domain.ParseDocType(string(res.DocType)); valid {
		return domain.Classification{
			DocType:    docType,
			Method:     domain.MethodAI,
			Confidence: clampConfidence(res.Confidence),
		}, nil
	}

	slog.Warn("classification_unknown_type",
		"document_id", doc.ID,
		"returned_type", string(res.DocType),
	)
	if ok {
		return lowConfidenceGuess(guess), nil
	}
	return domain.Classification{}, withCode(domain.ErrorUnclassifiable, fmt.Errorf("unrecognized document type %q", res.DocType))
}

func lowConfidenceGuess(g heuristicGuess) domain.Classification {
	return domain.Classification{
		DocType:    g.docType,
		Method:     domain.MethodHeuristic,
		Confidence: g.confidence,
	}
}

// heuristic scores every doc type by keyword hits in the filename and page text.
// Keyword density breaks score ties; an unresolved tie lowers confidence.
func (c *Classifier) heuristic(filename string, pages []domain.PageText) (heuristicGuess, bool) {
	name := strings.ToLower(filename)
	var textBuilder strings.Builder
	for _, p := range pages {
		textBuilder.WriteString(strings.ToLower(p.Text))
		textBuilder.WriteByte('\n')
	}
	text := textBuilder.String()
	words := len(strings.Fields(text))

	var best, runnerUp heuristicGuess
	for _, docType := range domain.AllDocTypes {
		schema, ok := c.catalog.Schema(docType)
		if !ok {
			continue
		}
		g := heuristicGuess{docType: docType}
		occurrences := 0
		for _, kw := range schema.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(name, kw) {
				g.score += filenameHitWeight
				g.confidence = max(g.confidence, filenameConfidence)
			}
			if n := strings.Count(text, kw); n > 0 {
				g.score += textHitWeight
				g.confidence = max(g.confidence, textConfidence)
				occurrences += n
			}
		}
		if words > 0 {
			g.density = float64(occurrences) / float64(words)
		}
		if g.score == 0 {
			continue
		}
		if better(g, best) {
			runnerUp = best
			best = g
		} else if better(g, runnerUp) {
			runnerUp = g
		}
	}

	if best.score == 0 {
		return heuristicGuess{}, false
	}
	if runnerUp.score == best.score && runnerUp.density == best.density {
		best.confidence = min(best.confidence, ambiguousConfidence)
	}
	return best, true
}

func better(a, b heuristicGuess) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.density > b.density
}

func firstPages(pages []domain.PageText, n int) []domain.PageText {
	if len(pages) <= n {
		return pages
	}
	return pages[:n]
}

func truncatePages(pages []domain.PageText, maxChars int) []domain.PageText {
	out := make([]domain.PageText, len(pages))
	for i, p := range pages {
		p.Text = truncateRunes(p.Text, maxChars)
		out[i] = p
	}
	return out
}
