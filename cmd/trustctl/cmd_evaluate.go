package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

type evaluateFlags struct {
	question string
	answer   string
	context  string
	function string
	params   map[string]string
	noCache  bool
	output   string
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	f := &evaluateFlags{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score one answer",
		Example: `  trustctl evaluate -q "What is the capital of France?" -a "Paris"
  trustctl evaluate -q "..." -a "..." --function keyword_matching -o text`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := f.request()
			if err := req.Validate(); err != nil {
				return err
			}
			if err := checkOutput(f.output); err != nil {
				return err
			}

			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			score, err := rt.detector.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeScore(cmd.OutOrStdout(), f.output, score)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.question, "question", "q", "", "question that was asked")
	fl.StringVarP(&f.answer, "answer", "a", "", "answer to score")
	fl.StringVar(&f.context, "context", "", "optional grounding context")
	fl.StringVarP(&f.function, "function", "f", "", "scoring function (default: self-reflection)")
	fl.StringToStringVarP(&f.params, "param", "p", nil, "scoring parameter key=value, repeatable")
	fl.BoolVar(&f.noCache, "no-cache", false, "bypass the score cache")
	fl.StringVarP(&f.output, "output", "o", "json", "output format: json or text")
	return cmd
}

func (f *evaluateFlags) request() domain.EvaluationRequest {
	req := domain.EvaluationRequest{
		Question:        f.question,
		Answer:          f.answer,
		Context:         f.context,
		ScoringFunction: f.function,
		SkipCache:       f.noCache,
	}
	keys := make([]string, 0, len(f.params))
	for k := range f.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Params = append(req.Params, domain.Param{Key: k, Value: f.params[k]})
	}
	return req
}

func checkOutput(format string) error {
	switch format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want json or text)", format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeScore(w io.Writer, format string, s domain.TrustScore) error {
	if format == "json" {
		return writeJSON(w, s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "score:      %.3f [%.3f, %.3f]\n", s.Score, s.Interval.Lower, s.Interval.Upper)
	fmt.Fprintf(&b, "function:   %s\n", s.ScoringFunction)
	fmt.Fprintf(&b, "confidence: %.3f\n", s.Explanation.Confidence)
	fmt.Fprintf(&b, "cached:     %t\n", s.Cached)
	if s.Explanation.Reasoning != "" {
		fmt.Fprintf(&b, "reasoning:  %s\n", s.Explanation.Reasoning)
	}
	factors := make([]string, 0, len(s.Explanation.Factors))
	for k := range s.Explanation.Factors {
		factors = append(factors, k)
	}
	sort.Strings(factors)
	for _, k := range factors {
		fmt.Fprintf(&b, "  %-20s %.3f\n", k, s.Explanation.Factors[k])
	}
	_, err := io.WriteString(w, b.String())
	return err
}
