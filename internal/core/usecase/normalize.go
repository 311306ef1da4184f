package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

const maxSnippetRunes = 200

var (
	numberWithUnit   = regexp.MustCompile(`^([-+]?[0-9][0-9.,\s]*)\s*([\p{L}%]+\.?)?$`)
	thousandsGrouped = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+$`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
}

// normalizeValue applies kind-specific normalization at the extraction edge.
func normalizeValue(spec domain.FieldSpec, value, unit string) (string, string) {
	value = collapseSpaces(value)
	unit = strings.TrimSpace(unit)

	switch spec.Kind {
	case domain.KindPercent:
		trimmed := strings.TrimSpace(strings.TrimSuffix(value, "%"))
		if n, ok := parseNumber(trimmed); ok {
			return formatNumber(n), "%"
		}
		return value, unit
	case domain.KindNumber:
		m := numberWithUnit.FindStringSubmatch(value)
		if m == nil {
			return value, unit
		}
		n, ok := parseNumber(m[1])
		if !ok {
			return value, unit
		}
		if unit == "" && m[2] != "" {
			unit = strings.ToLower(strings.TrimSuffix(m[2], "."))
		}
		return formatNumber(n), unit
	case domain.KindDate:
		if d, ok := parseDate(value); ok {
			return d.Format("2006-01-02"), unit
		}
		return value, unit
	default:
		return value, unit
	}
}

func parseNumber(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return 0, false
	}
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case thousandsGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func normalizeText(s string) string {
	s = strings.ToLower(collapseSpaces(s))
	return strings.ReplaceAll(s, ",", "")
}

// valuesAgree compares two normalized values of the same key.
func valuesAgree(spec domain.FieldSpec, a, b string) bool {
	switch {
	case spec.Numeric():
		x, okA := parseNumber(strings.TrimSuffix(strings.TrimSpace(a), "%"))
		y, okB := parseNumber(strings.TrimSuffix(strings.TrimSpace(b), "%"))
		if !okA || !okB {
			return normalizeText(a) == normalizeText(b)
		}
		diff := math.Abs(x - y)
		scale := math.Max(math.Abs(x), math.Abs(y))
		if scale == 0 {
			return diff == 0
		}
		return diff <= spec.Tolerance*scale
	case spec.Kind == domain.KindDate:
		x, okA := parseDate(a)
		y, okB := parseDate(b)
		if !okA || !okB {
			return normalizeText(a) == normalizeText(b)
		}
		return x.Equal(y)
	default:
		return normalizeText(a) == normalizeText(b)
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
