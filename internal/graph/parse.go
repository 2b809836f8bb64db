// Package graph turns plotting requests into function graphs.
package graph

import (
	"regexp"
	"strconv"
	"strings"
)

// Default x range when the request names none.
const (
	DefaultXMin = -10.0
	DefaultXMax = 10.0
)

var equationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)y\s*=\s*([a-zA-Z0-9_\+\-\*\/\^\(\)\.\s]+)`),
	regexp.MustCompile(`(?i)vẽ\s+(?:đồ\s+thị\s+)?(.+?)(?:\s+từ|\s*$)`),
	regexp.MustCompile(`(?i)đồ\s+thị\s+(?:hàm\s+)?(.+?)(?:\s+từ|\s*$)`),
}

var rangeRegex = regexp.MustCompile(`(?i)từ\s+(-?\d+)\s+đến\s+(-?\d+)|from\s+(-?\d+)\s+to\s+(-?\d+)`)

var notation = strings.NewReplacer("^", "**", "×", "*", "÷", "/")

// ParseEquation pulls the right-hand side of a function out of a request
// such as "vẽ đồ thị y = x^2 - 3 từ -5 đến 5". The result uses ** for
// powers.
func ParseEquation(query string) (string, bool) {
	query = rangeRegex.ReplaceAllString(query, "")
	for _, p := range equationPatterns {
		m := p.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		eq := NormalizeEquation(m[1])
		if eq == "" {
			continue
		}
		return eq, true
	}
	return "", false
}

// NormalizeEquation rewrites common notation and trims surrounding
// whitespace, quotes and trailing punctuation.
func NormalizeEquation(eq string) string {
	eq = strings.TrimSpace(eq)
	eq = strings.Trim(eq, "\"'`")
	eq = notation.Replace(eq)
	eq = strings.TrimRight(eq, ".,;:!?")
	return strings.TrimSpace(eq)
}

// ParseRange returns the x range named in query, or the default range.
func ParseRange(query string) (xMin, xMax float64) {
	m := rangeRegex.FindStringSubmatch(query)
	if m == nil {
		return DefaultXMin, DefaultXMax
	}
	lo, hi := m[1], m[2]
	if lo == "" {
		lo, hi = m[3], m[4]
	}
	a, errA := strconv.ParseFloat(lo, 64)
	b, errB := strconv.ParseFloat(hi, 64)
	if errA != nil || errB != nil || a >= b {
		return DefaultXMin, DefaultXMax
	}
	return a, b
}
