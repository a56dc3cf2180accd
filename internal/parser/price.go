package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// currencyAmount finds a symbol-prefixed amount in free text: either
// thousands-grouped digits or a plain run, with up to two decimals. A digit
// right after the match means the amount was not read whole; callers check.
var currencyAmount = regexp.MustCompile(`[$€£]\s?(?:\d{1,3}(?:[.,]\d{3})+|\d+)(?:[.,]\d{1,2})?`)

var numberToken = regexp.MustCompile(`\d[\d.,]*`)

var symbolCurrency = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"$", "USD"},
}

var isoCurrencies = []string{"USD", "EUR", "GBP", "CAD", "AUD"}

// parseAmount reads the first number in s. It accepts "14", "14.00", "14,50"
// and grouped forms such as "1,200.00".
func parseAmount(s string) (float64, bool) {
	token := strings.TrimRight(numberToken.FindString(s), ".,")
	if token == "" {
		return 0, false
	}
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		if decimals := len(token) - lastComma - 1; decimals <= 2 && strings.Count(token, ",") == 1 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case strings.Count(token, ".") > 1:
		token = strings.ReplaceAll(token, ".", "")
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// currencyOf guesses an ISO code from symbols or codes in s, falling back to
// def.
func currencyOf(s, def string) string {
	for _, sc := range symbolCurrency {
		if strings.Contains(s, sc.symbol) {
			return sc.code
		}
	}
	upper := strings.ToUpper(s)
	for _, code := range isoCurrencies {
		if strings.Contains(upper, code) {
			return code
		}
	}
	return def
}

// isCurrencyCode accepts three uppercase ASCII letters, the shape of an
// ISO 4217 code.
func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func floatPtr(v float64) *float64 {
	return &v
}
