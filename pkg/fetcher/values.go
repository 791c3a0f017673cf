package fetcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	priceRe  = regexp.MustCompile(`([^\d]*)(\d[\d.,]*)`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	countRe  = regexp.MustCompile(`^\d+`)
)

const lastSoldLayout = "Jan 2, 2006"

// parseCount reads "1,234"; "--" and blanks are absent
func parseCount(s string) *int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "--" {
		return nil
	}
	if m := countRe.FindString(s); m != "" {
		s = m
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// parseRating reads "4.35 / 5"
func parseRating(s string) *float64 {
	before, _, _ := strings.Cut(s, "/")
	before = strings.TrimSpace(before)
	if before == "" || before == "--" {
		return nil
	}
	f, err := strconv.ParseFloat(before, 64)
	if err != nil {
		return nil
	}
	return &f
}

// parsePrice splits "€12,50" or "$1,234.00" into currency and amount
func parsePrice(s string) (string, *float64) {
	m := priceRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", nil
	}
	currency := strings.TrimSpace(m[1])
	amount := normalizeDecimal(strings.TrimRight(m[2], ".,"))
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return currency, nil
	}
	return currency, &f
}

// normalizeDecimal turns grouped or comma-decimal numbers into Go float syntax
func normalizeDecimal(s string) string {
	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// 1.234,56
			return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		}
		return strings.ReplaceAll(s, ",", "")
	case hasComma:
		i := strings.LastIndex(s, ",")
		if len(s)-i-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.ReplaceAll(s, ",", ".")
	default:
		return s
	}
}

// parseLastSold reads "Mar 3, 2021"; "Never" is absent
func parseLastSold(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "never") {
		return nil
	}
	t, err := time.Parse(lastSoldLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func firstNumber(s string) *float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &f
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
