package quizgen

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/tutor/internal/model"
)

// Answer key candidates, tried in order. Each yields text from which
// number-letter pairs are read.
var (
	commentKeyRegex  = regexp.MustCompile(`(?i)<!--\s*ANSWER_KEY:\s*([0-9]+\s*-\s*[A-D](?:\s*,\s*[0-9]+\s*-\s*[A-D])+)\s*-->`)
	labeledKeyRegex  = regexp.MustCompile(`(?i)(?:Đáp án|Answer key|Answers)\s*:?\**\s*:?\s*((?:\d+\s*-\s*[A-D]\s*,?\s*){10,})`)
	bulletedKeyRegex = regexp.MustCompile(`\*\*Đáp án:?\*\*:?\s*\n((?:\s*\d+\.\s*[A-D]\s*\n?)+)`)
	bareLineRegex    = regexp.MustCompile(`(?m)^\s*(\d+)\.\s*([A-D])\s*$`)

	dashPairRegex = regexp.MustCompile(`(\d+)\s*-\s*([A-D])`)
	dotPairRegex  = regexp.MustCompile(`(\d+)\.\s*([A-D])`)

	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// ExtractAnswerKey finds the answer key embedded in quiz markdown. It
// returns nil unless some candidate yields exactly one letter for each of
// questions 1 through 10.
func ExtractAnswerKey(markdown string) model.AnswerKey {
	key, _ := findAnswerKey(markdown)
	return key
}

// findAnswerKey returns the key and the byte ranges of the text it was read
// from, so the same text can be cut out of the student copy.
func findAnswerKey(markdown string) (model.AnswerKey, [][]int) {
	candidates := []struct {
		re    *regexp.Regexp
		pairs *regexp.Regexp
	}{
		{commentKeyRegex, dashPairRegex},
		{labeledKeyRegex, dashPairRegex},
		{bulletedKeyRegex, dotPairRegex},
	}
	for _, c := range candidates {
		loc := c.re.FindStringSubmatchIndex(markdown)
		if loc == nil {
			continue
		}
		if key := pairsToKey(c.pairs.FindAllStringSubmatch(markdown[loc[2]:loc[3]], -1)); key != nil {
			return key, [][]int{{loc[0], loc[1]}}
		}
	}

	locs := bareLineRegex.FindAllStringSubmatchIndex(markdown, -1)
	matches := make([][]string, len(locs))
	spans := make([][]int, len(locs))
	for i, loc := range locs {
		matches[i] = []string{markdown[loc[0]:loc[1]], markdown[loc[2]:loc[3]], markdown[loc[4]:loc[5]]}
		spans[i] = []int{loc[0], loc[1]}
	}
	if key := pairsToKey(matches); key != nil {
		return key, spans
	}
	return nil, nil
}

// pairsToKey turns regex submatches (number, letter) into a key sorted by
// question number, or nil when they do not cover 1..NumQuestions exactly once.
func pairsToKey(matches [][]string) model.AnswerKey {
	if len(matches) != NumQuestions {
		return nil
	}
	seen := make(map[int]bool, NumQuestions)
	key := make(model.AnswerKey, 0, NumQuestions)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > NumQuestions || seen[n] {
			return nil
		}
		seen[n] = true
		key = append(key, model.AnswerPair{Number: n, Letter: strings.ToUpper(m[2])})
	}
	slices.SortFunc(key, func(a, b model.AnswerPair) int { return a.Number - b.Number })
	return key
}

// StripAnswerKey removes the answer key from quiz markdown so the content
// can be shown to the student: the text the key was read from, whichever
// form it took, and any leftover comment marker.
func StripAnswerKey(markdown string) string {
	if _, spans := findAnswerKey(markdown); spans != nil {
		var sb strings.Builder
		prev := 0
		for _, sp := range spans {
			sb.WriteString(markdown[prev:sp[0]])
			prev = sp[1]
		}
		sb.WriteString(markdown[prev:])
		markdown = sb.String()
	}
	markdown = commentKeyRegex.ReplaceAllString(markdown, "")
	return strings.TrimSpace(blankLinesRegex.ReplaceAllString(markdown, "\n\n"))
}
