package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	errEmptyQuestion       = errors.New("question text is empty")
	errCorrectNotInOptions = errors.New("correct answer is not one of the options")

	// ErrMalformedAnswers is returned when an answer string cannot be parsed.
	ErrMalformedAnswers = errors.New("malformed answers")
)

var pairRegex = regexp.MustCompile(`^(\d+)\s*-\s*([A-Da-d])$`)

// AnswerPair is one question number with its chosen or correct letter.
type AnswerPair struct {
	Number int
	Letter string
}

// AnswerKey is an ordered list of answer pairs. The same type carries
// both correct keys and student answers.
type AnswerKey []AnswerPair

// ParseAnswerKey parses "1-A,2-B,...". Letters are upper-cased. Any item
// that is not a number-letter pair, or a repeated question number, makes
// the whole string malformed.
func ParseAnswerKey(s string) (AnswerKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedAnswers)
	}
	var key AnswerKey
	seen := make(map[int]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		m := pairRegex.FindStringSubmatch(item)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedAnswers, item)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad question number %q", ErrMalformedAnswers, m[1])
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: question %d repeated", ErrMalformedAnswers, n)
		}
		seen[n] = true
		key = append(key, AnswerPair{Number: n, Letter: strings.ToUpper(m[2])})
	}
	return key, nil
}

// String renders the key in its canonical "1-A,2-B" form.
func (k AnswerKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = strconv.Itoa(p.Number) + "-" + p.Letter
	}
	return strings.Join(parts, ",")
}

// Map indexes the key by question number.
func (k AnswerKey) Map() map[int]string {
	m := make(map[int]string, len(k))
	for _, p := range k {
		m[p.Number] = p.Letter
	}
	return m
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
