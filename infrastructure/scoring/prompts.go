// Package scoring provides the scoring functions the detector dispatches to:
// the model-backed self-reflection scorer and a family of text heuristics.
package scoring

import (
	"errors"
	"strings"
)

// Placeholders substituted into reflection templates.
const (
	QuestionPlaceholder = "{question}"
	AnswerPlaceholder   = "{answer}"
)

// ErrTemplatePlaceholders is returned for a template missing either
// placeholder.
var ErrTemplatePlaceholders = errors.New("reflection template must contain {question} and {answer}")

// DefaultReflectionTemplates ask the model to grade the proposed answer as
// (A) correct, (B) incorrect or (C) unsure, then ask again whether it is
// really sure.
var DefaultReflectionTemplates = []string{
	`Question: {question}
Proposed Answer: {answer}
Is the proposed answer: (A) Correct (B) Incorrect (C) I am not sure.
The output should strictly use the following template:
explanation: [insert analysis], answer: [A/B/C]`,
	`Question: {question}
Proposed Answer: {answer}
Are you really sure the proposed answer is correct?
Choose again: (A) Correct (B) Incorrect (C) I am not sure.
The output should strictly use the following template:
explanation: [insert analysis], answer: [A/B/C]`,
}

// Template is a parsed reflection prompt.
type Template struct {
	raw string
}

// ParseTemplate checks that text carries both placeholders.
func ParseTemplate(text string) (Template, error) {
	if !strings.Contains(text, QuestionPlaceholder) || !strings.Contains(text, AnswerPlaceholder) {
		return Template{}, ErrTemplatePlaceholders
	}
	return Template{raw: text}, nil
}

// Render substitutes the question and answer in a single pass, so braces
// inside the inputs are never expanded again.
func (t Template) Render(question, answer string) string {
	return strings.NewReplacer(QuestionPlaceholder, question, AnswerPlaceholder, answer).Replace(t.raw)
}

// String returns the unrendered template.
func (t Template) String() string { return t.raw }
