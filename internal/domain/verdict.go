package domain

// Verdict is the categorical judgment a model gives about a proposed answer
// when asked to reflect on it.
type Verdict int

const (
	// VerdictUncertain is the zero value so an unparsed or missing judgment
	// is never mistaken for a confident one.
	VerdictUncertain Verdict = iota
	// VerdictCorrect means the model judged the answer correct (option A).
	VerdictCorrect
	// VerdictIncorrect means the model judged the answer incorrect (option B).
	VerdictIncorrect
)

// Score maps a verdict onto the numeric scale used for aggregation.
// Correct is 1.0, Incorrect is 0.0 and Uncertain is 0.5.
func (v Verdict) Score() float64 {
	switch v {
	case VerdictCorrect:
		return 1.0
	case VerdictIncorrect:
		return 0.0
	default:
		return 0.5
	}
}

// String returns the lowercase verdict name used in logs and explanations.
func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictIncorrect:
		return "incorrect"
	default:
		return "uncertain"
	}
}

// Letter returns the multiple-choice option letter for the verdict.
func (v Verdict) Letter() string {
	switch v {
	case VerdictCorrect:
		return "A"
	case VerdictIncorrect:
		return "B"
	default:
		return "C"
	}
}

// VerdictFromLetter converts an option letter to a verdict. Anything other
// than A or B (case-insensitive) is Uncertain.
func VerdictFromLetter(letter string) Verdict {
	switch letter {
	case "A", "a":
		return VerdictCorrect
	case "B", "b":
		return VerdictIncorrect
	default:
		return VerdictUncertain
	}
}
