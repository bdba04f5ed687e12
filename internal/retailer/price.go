package retailer

import (
	"strconv"
	"strings"
	"unicode"
)

// parseMinorUnits reads the first amount in a price text and returns it in
// minor units of the currency, assuming two decimals. It copes with both
// "1.299,50 €" and "$1,299.50" as well as bare JSON-LD numbers.
func parseMinorUnits(text string) (int64, bool) {
	whole, frac, ok := splitAmount(firstNumber(text))
	if !ok {
		return 0, false
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	for len(frac) < 3 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac[:2], 10, 64)
	if frac[2] >= '5' {
		cents++
	}
	return units*100 + cents, true
}

// parseDecimal reads the first number in text as a float, accepting either
// separator as the decimal point.
func parseDecimal(text string) (float64, bool) {
	whole, frac, ok := splitAmount(firstNumber(text))
	if !ok {
		return 0, false
	}
	if frac != "" {
		whole += "." + frac
	}
	v, err := strconv.ParseFloat(whole, 64)
	return v, err == nil
}

// parseCount reads the first integer in text, ignoring group separators.
func parseCount(text string) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, firstNumber(text))
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// firstNumber returns the first run of digits in s together with the
// separators and spaces that sit between its digits.
func firstNumber(s string) string {
	runes := []rune(s)
	start := -1
	for i, r := range runes {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := start
	for i := start; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r >= '0' && r <= '9':
			end = i + 1
		case r == '.' || r == ',' || unicode.IsSpace(r):
			if i+1 >= len(runes) || runes[i+1] < '0' || runes[i+1] > '9' {
				return compactNumber(runes[start:end])
			}
		default:
			return compactNumber(runes[start:end])
		}
	}
	return compactNumber(runes[start:end])
}

func compactNumber(runes []rune) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(runes))
}

// splitAmount separates num into whole and fractional digits. With both
// separators present the last one is the decimal point. A lone separator
// followed by exactly three digits groups thousands.
func splitAmount(num string) (whole, frac string, ok bool) {
	if num == "" {
		return "", "", false
	}
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')
	sep := max(lastDot, lastComma)
	if sep < 0 {
		return num, "", true
	}
	decimal := true
	if lastDot < 0 || lastComma < 0 {
		tail := num[sep+1:]
		count := strings.Count(num, num[sep:sep+1])
		decimal = count == 1 && len(tail) != 3
	}
	if !decimal {
		return stripSeparators(num), "", true
	}
	return stripSeparators(num[:sep]), num[sep+1:], true
}

func stripSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}
