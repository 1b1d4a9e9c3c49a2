package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ridwanabdusalam/cleanlab/internal/application"
)

// functionList names every scoring function cfg would register, without
// contacting a model.
func functionList(cfg application.Config) map[string]string {
	out := map[string]string{}
	for _, fn := range application.BuiltinScoringFunctions(nil) {
		out[fn.Name] = fn.Description
	}
	for name, w := range cfg.WeightedFunctions {
		desc := w.Description
		if desc == "" {
			desc = "Weighted combination of heuristic factors"
		}
		out[name] = desc
	}
	return out
}

func newScoringFunctionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "scoring-functions",
		Aliases: []string{"functions"},
		Short:   "List the available scoring functions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			fns := functionList(cfg)
			names := make([]string, 0, len(fns))
			for name := range fns {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, fns[name])
			}
			return tw.Flush()
		},
	}
}
