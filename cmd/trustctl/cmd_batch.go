package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// batchFile is the YAML layout read by the batch command.
type batchFile struct {
	Requests []domain.EvaluationRequest `yaml:"requests"`
}

type batchResult struct {
	ID     string             `json:"id"`
	Index  int                `json:"index"`
	Status string             `json:"status"`
	Score  *domain.TrustScore `json:"score,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func readBatchFile(r io.Reader) ([]domain.EvaluationRequest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f batchFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("batch file has no requests")
		}
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(f.Requests) == 0 {
		return nil, fmt.Errorf("batch file has no requests")
	}
	return f.Requests, nil
}

func toBatchResults(results []domain.EvaluationResult) ([]batchResult, int) {
	out := make([]batchResult, len(results))
	failed := 0
	for i, res := range results {
		out[i] = batchResult{ID: res.ID, Index: res.Index, Score: res.Score, Status: middleware.Outcome(res.Score, res.Err)}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			failed++
		}
	}
	return out, failed
}

func newBatchCmd(g *globalFlags) *cobra.Command {
	var failOnError bool
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Score every request in a YAML file",
		Long: "Reads a YAML document with a top-level requests list, each entry holding\n" +
			"question, answer and optionally context, scoring_function, params and\n" +
			"skip_cache. Results are printed as JSON in input order.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			reqs, err := readBatchFile(f)
			f.Close()
			if err != nil {
				return err
			}

			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			results, failed := toBatchResults(rt.detector.BatchEvaluate(cmd.Context(), reqs))
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failOnError && failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when any request fails")
	return cmd
}
