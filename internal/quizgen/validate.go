package quizgen

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	questionMarkerRegex = regexp.MustCompile(`##\s*\*\*Câu\s+\d+\*\*`)
	optionMarkerRegex   = regexp.MustCompile(`\*\*[A-D]\.\*\*`)
)

// Validate checks the fixed quiz shape: NumQuestions question headers, four
// option markers per question, and no answer disclosure in the body. It
// returns one message per problem found.
func Validate(markdown string) []string {
	var problems []string
	questions := len(questionMarkerRegex.FindAllString(markdown, -1))
	if questions != NumQuestions {
		problems = append(problems, fmt.Sprintf("expected %d questions, found %d", NumQuestions, questions))
	}
	options := len(optionMarkerRegex.FindAllString(markdown, -1))
	if options != NumQuestions*OptionsPerQuestion {
		problems = append(problems, fmt.Sprintf("expected %d options, found %d", NumQuestions*OptionsPerQuestion, options))
	}
	body := StripAnswerKey(markdown)
	if strings.Contains(strings.ToUpper(body), "ĐÁP ÁN") {
		problems = append(problems, "body discloses answers")
	}
	return problems
}
