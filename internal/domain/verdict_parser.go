package domain

import (
	"regexp"
	"strings"
)

// letterPatterns are tried in order; the first one that matches decides the
// verdict. All of them capture a single option letter. The trailing word
// boundary keeps "answer: correct" from being read as option C.
var letterPatterns = []*regexp.Regexp{
	// "answer: [A]", "Answer (B)", "answer:C"
	regexp.MustCompile(`(?i)answer\s*:?\s*[\[\(]?([ABC])\b[\]\)]?`),
	// "[A]" or "(B)" anywhere in the text.
	regexp.MustCompile(`(?i)[\[\(]([ABC])[\]\)]`),
	// A lone letter.
	regexp.MustCompile(`(?i)^\s*([ABC])\s*$`),
	// "the choice is B", "selection: A", "option (C)".
	regexp.MustCompile(`(?i)(?:answer|choice|select(?:ion)?|option)\s*(?:is|:)?\s*[\[\(]?([ABC])\b[\]\)]?`),
}

// keywordPatterns is the last-resort fallback when no option letter can be
// found. Hedging phrases win over everything else, and "incorrect" is
// checked before "correct".
var keywordPatterns = []struct {
	re      *regexp.Regexp
	verdict Verdict
}{
	{regexp.MustCompile(`(?i)\b(?:unsure|uncertain|maybe|not sure|don'?t know)\b`), VerdictUncertain},
	{regexp.MustCompile(`(?i)\b(?:incorrect|wrong|no|false)\b`), VerdictIncorrect},
	{regexp.MustCompile(`(?i)\b(?:correct|right|yes|true)\b`), VerdictCorrect},
}

// ParseVerdict extracts a verdict from free-form model output. It never
// fails: empty or unrecognizable text yields VerdictUncertain.
func ParseVerdict(text string) Verdict {
	text = strings.TrimSpace(text)
	if text == "" {
		return VerdictUncertain
	}

	for _, re := range letterPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return VerdictFromLetter(strings.ToUpper(m[1]))
		}
	}

	for _, kw := range keywordPatterns {
		if kw.re.MatchString(text) {
			return kw.verdict
		}
	}

	return VerdictUncertain
}
