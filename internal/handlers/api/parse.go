package api

import (
	"strconv"
	"strings"
)

// ParseFloat converts the longest leading number in s, after leading
// whitespace, the way C's atof does: decimal, hexadecimal ("0x1A", "0x1.8p1"),
// inf and nan. Anything unparsable is 0. Out of range values saturate to ±Inf.
func ParseFloat(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	num := s[:numericPrefixLen(s)]
	if num == "" {
		return 0
	}
	if isHex(num) && !strings.ContainsAny(num, "pP") {
		// strconv wants a binary exponent on hex floats.
		num += "p0"
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		// ErrRange still carries the saturated value.
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return v
		}
		return 0
	}
	return v
}

func numericPrefixLen(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for _, word := range []string{"infinity", "inf", "nan"} {
		if len(s)-i >= len(word) && strings.EqualFold(s[i:i+len(word)], word) {
			return i + len(word)
		}
	}

	if n := hexPrefixLen(s, i); n > 0 {
		return n
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

// hexPrefixLen returns the end of a hexadecimal float starting at i, or 0
// when there is none. "0x" without hex digits is left to the decimal path,
// which reads the leading 0.
func hexPrefixLen(s string, i int) int {
	if len(s)-i < 2 || s[i] != '0' || (s[i+1] != 'x' && s[i+1] != 'X') {
		return 0
	}
	j := i + 2
	digits := 0
	for j < len(s) && isHexDigit(s[j]) {
		j++
		digits++
	}
	if j < len(s) && s[j] == '.' {
		j++
		for j < len(s) && isHexDigit(s[j]) {
			j++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if j < len(s) && (s[j] == 'p' || s[j] == 'P') {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		if k < len(s) && isDigit(s[k]) {
			for k < len(s) && isDigit(s[k]) {
				k++
			}
			j = k
		}
	}
	return j
}

func isHex(num string) bool {
	num = strings.TrimLeft(num, "+-")
	return len(num) > 1 && num[0] == '0' && (num[1] == 'x' || num[1] == 'X')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
