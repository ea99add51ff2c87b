// Package numeral converts between integers and Roman numerals and provides
// the "romanize" operator used to label front-matter and content pages.
package numeral

import (
	"fmt"
	"strings"
)

var numMap = []struct {
	value  int
	symbol string
}{
	{1000, "m"}, {900, "cm"}, {500, "d"}, {400, "cd"},
	{100, "c"}, {90, "xc"}, {50, "l"}, {40, "xl"},
	{10, "x"}, {9, "ix"}, {5, "v"}, {4, "iv"}, {1, "i"},
}

var romanValue = map[rune]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

// IntToRoman converts n (1..3999) to a lower-case Roman numeral using the
// canonical 13-symbol subtractive table.
func IntToRoman(n int) (string, error) {
	if n < 1 || n > 3999 {
		return "", fmt.Errorf("numeral: %d is out of Roman numeral range [1, 3999]", n)
	}
	var b strings.Builder
	for _, m := range numMap {
		for n >= m.value {
			b.WriteString(m.symbol)
			n -= m.value
		}
	}
	return b.String(), nil
}

// RomanToInt parses a Roman numeral (any case) back into its integer value.
// It does not reject non-canonical forms (e.g. "iiii"); it only requires
// every character to be a recognised Roman digit.
func RomanToInt(s string) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("numeral: empty roman numeral")
	}
	s = strings.ToLower(s)
	sum := 0
	for i := len(s) - 1; i >= 0; i-- {
		v, ok := romanValue[rune(s[i])]
		if !ok {
			return 0, fmt.Errorf("numeral: invalid roman digit %q in %q", s[i], s)
		}
		if 3*v < sum {
			sum -= v
		} else {
			sum += v
		}
	}
	return sum, nil
}

// Romanize returns the display label for content page n given front (the
// number of Roman-numbered front-matter pages, 0 disables Roman prefixing)
// and offset (added to n before formatting). Pages with n < front are
// rendered as lower-case Roman numerals of n+offset; later pages are
// rendered as the Arabic number n-front+offset, relative to the end of the
// front matter.
func Romanize(n, front, offset int) (string, error) {
	if front > n {
		return IntToRoman(n + offset)
	}
	return fmt.Sprintf("%d", n-front+offset), nil
}
