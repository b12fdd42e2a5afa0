package vision

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"zerosum/internal/core"
	"zerosum/internal/ocr"
)

var (
	isoDate   = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	usDate    = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})\b`)
	moneyExpr = regexp.MustCompile(`\$?\s?(\d{1,3}(?:,\d{3})+|\d+)[.,](\d{2})\b`)

	totalKeywords = []string{"grand total", "total due", "amount due", "balance due", "total"}
	skipPayee     = []string{"receipt", "invoice", "welcome", "thank you", "customer copy", "order"}
)

// ParseReceipt extracts payee, date, total and category from OCR text.
// Empty text is unscannable; text with neither a date nor a total is not
// a receipt.
func ParseReceipt(text string, categories []string) (ocr.Receipt, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeUnscannable, errors.New("no text found in image"))
	}

	rec := ocr.Receipt{
		Payee:    findPayee(lines),
		Date:     findDate(lines),
		Amount:   findTotal(lines),
		Category: findCategory(text, categories),
	}
	if rec.Date == "" && rec.Amount == 0 {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeNotReceipt, errors.New("no date or total found"))
	}
	return rec, nil
}

func splitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func findPayee(lines []string) string {
	for _, l := range lines {
		lower := strings.ToLower(l)
		if !strings.ContainsFunc(l, unicode.IsLetter) {
			continue
		}
		if moneyExpr.MatchString(l) || isoDate.MatchString(l) || usDate.MatchString(l) {
			continue
		}
		skip := false
		for _, s := range skipPayee {
			if strings.Contains(lower, s) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if r := []rune(l); len(r) > 100 {
			l = string(r[:100])
		}
		return l
	}
	return ""
}

func findDate(lines []string) string {
	for _, l := range lines {
		if m := isoDate.FindStringSubmatch(l); m != nil {
			if d, ok := makeDate(m[1], m[2], m[3]); ok {
				return d
			}
		}
		if m := usDate.FindStringSubmatch(l); m != nil {
			year := m[3]
			if len(year) == 2 {
				year = "20" + year
			}
			if d, ok := makeDate(year, m[1], m[2]); ok {
				return d
			}
		}
	}
	return ""
}

func makeDate(y, m, d string) (string, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	s := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if _, err := time.Parse(core.DateLayout, s); err != nil {
		return "", false
	}
	return s, true
}

func lastAmount(line string) (int64, bool) {
	ms := moneyExpr.FindAllStringSubmatch(line, -1)
	if len(ms) == 0 {
		return 0, false
	}
	m := ms[len(ms)-1]
	cents, err := core.ParseAmount(strings.ReplaceAll(m[1], ",", "") + "." + m[2])
	if err != nil {
		return 0, false
	}
	return cents, true
}

func findTotal(lines []string) int64 {
	for _, kw := range totalKeywords {
		for i, l := range lines {
			lower := strings.ToLower(l)
			if !strings.Contains(lower, kw) || strings.Contains(lower, "subtotal") {
				continue
			}
			if v, ok := lastAmount(l); ok {
				return core.Abs(v)
			}
			if i+1 < len(lines) {
				if v, ok := lastAmount(lines[i+1]); ok {
					return core.Abs(v)
				}
			}
		}
	}
	var best int64
	for _, l := range lines {
		if v, ok := lastAmount(l); ok && core.Abs(v) > best {
			best = core.Abs(v)
		}
	}
	return best
}

func findCategory(text string, categories []string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}
