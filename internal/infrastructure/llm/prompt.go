package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

const maxPromptPageChars = 12000

// SystemPrompt is shared by every provider; the user prompt carries the task.
const SystemPrompt = `You read trade documents (invoices, packing lists, certificates, test reports, safety data sheets, bills of materials).
Reply with one strict JSON object and nothing else. No markdown.`

func BuildClassifyPrompt(req ports.ClassifyRequest) string {
	types := make([]string, 0, len(req.Candidates))
	for _, t := range req.Candidates {
		types = append(types, string(t))
	}

	var b strings.Builder
	b.WriteString("Classify the document into exactly one of these types: ")
	b.WriteString(strings.Join(types, ", "))
	b.WriteString(".\nReturn JSON with keys doc_type (string, one of the types above) and confidence (number from 0 to 1).\n\n")
	fmt.Fprintf(&b, "Filename: %s\n", req.Filename)
	for _, p := range req.Pages {
		fmt.Fprintf(&b, "\n--- page %d ---\n%s\n", p.PageNumber, truncate(p.Text, maxPromptPageChars))
	}
	return b.String()
}

func BuildExtractPrompt(req ports.ExtractRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract fields from page %d of a document of type %s.\n", req.PageNumber, req.DocType)
	b.WriteString("Allowed canonical keys: ")
	b.WriteString(strings.Join(req.Schema.Keys, ", "))
	b.WriteString(`.
Return JSON {"fields":[{"canonical_key":"...","value":"...","unit":"...","snippet":"...","confidence":0.0}]}.
Rules:
- snippet must be copied verbatim from the page text and contain the value.
- omit keys that are not present on this page; never guess.
- unit is empty when the value has none.
- confidence is a number from 0 to 1.

Page text:
`)
	b.WriteString(truncate(req.PageText, maxPromptPageChars))
	return b.String()
}

type classifyPayload struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

func ParseClassification(raw string) (ports.ClassifyResult, error) {
	var payload classifyPayload
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &payload); err != nil {
		return ports.ClassifyResult{}, fmt.Errorf("parse classification json: %w", err)
	}
	if strings.TrimSpace(payload.DocType) == "" {
		return ports.ClassifyResult{}, errors.New("classification json has no doc_type")
	}
	return ports.ClassifyResult{
		DocType:    domain.DocType(strings.ToLower(strings.TrimSpace(payload.DocType))),
		Confidence: clamp01(payload.Confidence),
	}, nil
}

type candidatePayload struct {
	Fields []struct {
		CanonicalKey string          `json:"canonical_key"`
		Value        json.RawMessage `json:"value"`
		Unit         string          `json:"unit"`
		Snippet      string          `json:"snippet"`
		Confidence   float64         `json:"confidence"`
	} `json:"fields"`
}

// ParseCandidates decodes the extraction reply. Values may come back as JSON numbers.
func ParseCandidates(raw string) ([]domain.CandidateField, error) {
	var payload candidatePayload
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}
	out := make([]domain.CandidateField, 0, len(payload.Fields))
	for _, f := range payload.Fields {
		out = append(out, domain.CandidateField{
			CanonicalKey: strings.TrimSpace(f.CanonicalKey),
			Value:        rawValue(f.Value),
			Unit:         strings.TrimSpace(f.Unit),
			Snippet:      f.Snippet,
			Confidence:   clamp01(f.Confidence),
		})
	}
	return out, nil
}

func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func rawValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	trimmed := strings.TrimSpace(string(v))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
