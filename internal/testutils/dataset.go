package testutils

import (
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// LabelledAnswer is a question and candidate answer with a known verdict.
type LabelledAnswer struct {
	Question string
	Answer   string
	Context  string
	Correct  bool
}

// Request converts the item into an evaluation request.
func (l LabelledAnswer) Request() domain.EvaluationRequest {
	return domain.EvaluationRequest{Question: l.Question, Answer: l.Answer, Context: l.Context}
}

// FactualDataset is a small set of factual questions with one right and
// one wrong answer each.
func FactualDataset() []LabelledAnswer {
	return []LabelledAnswer{
		{Question: "What is the capital of France?", Answer: "Paris", Correct: true},
		{Question: "What is the capital of France?", Answer: "Lyon", Correct: false},
		{Question: "How many legs does a spider have?", Answer: "Eight", Correct: true},
		{Question: "How many legs does a spider have?", Answer: "Six", Correct: false},
		{Question: "What is the chemical symbol for gold?", Answer: "Au", Correct: true},
		{Question: "What is the chemical symbol for gold?", Answer: "Ag", Correct: false},
		{Question: "Who wrote Pride and Prejudice?", Answer: "Jane Austen", Correct: true},
		{Question: "Who wrote Pride and Prejudice?", Answer: "Charlotte Bronte", Correct: false},
		{
			Question: "What is the boiling point of water at sea level in Celsius?",
			Answer:   "100 degrees",
			Context:  "At standard atmospheric pressure water boils at 100 degrees Celsius.",
			Correct:  true,
		},
		{
			Question: "What is the boiling point of water at sea level in Celsius?",
			Answer:   "80 degrees",
			Context:  "At standard atmospheric pressure water boils at 100 degrees Celsius.",
			Correct:  false,
		},
	}
}

// ScriptJudge adds rules to m so that it grades every item of ds by its
// label: option A for correct answers and option B for wrong ones.
func ScriptJudge(m *ScriptedModelClient, ds []LabelledAnswer) *ScriptedModelClient {
	for _, item := range ds {
		reply := "Answer: [B]"
		if item.Correct {
			reply = "Answer: [A]"
		}
		m.On(reply, item.Question, item.Answer)
	}
	return m
}
