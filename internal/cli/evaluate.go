package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cot-reflect/backend/internal/evaluation"
	"github.com/cot-reflect/backend/pkg/apperr"
)

func newEvaluateCmd(o *options) *cobra.Command {
	var (
		req     evaluation.Request
		aspects []string
		labels  []string
		persist bool
		temp    float64
		topP    float64
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <snapshot1-id> <snapshot2-id>",
		Short: "Compare two snapshots with a judge model",
		Example: `  # Compare the final outputs of snapshots 3 and 7
  reflectctl evaluate 3 7 --aspects "Final Output"

  # Add a custom metric and criteria, with named sides
  reflectctl evaluate 3 7 --metrics Conciseness --criteria "Prefer cited answers" \
    --labels "With reflection,Baseline"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Snapshot1ID, err = parseID(args[0]); err != nil {
				return err
			}
			if req.Snapshot2ID, err = parseID(args[1]); err != nil {
				return err
			}

			for _, a := range aspects {
				req.Aspects = append(req.Aspects, evaluation.Aspect(a))
			}
			if len(labels) != 0 && len(labels) != len(req.Labels) {
				return apperr.Invalid("labels", "expected two comma-separated names, got %d", len(labels))
			}
			copy(req.Labels[:], labels)
			if cmd.Flags().Changed("persist") {
				req.Persist = &persist
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temp
			}
			if cmd.Flags().Changed("top-p") {
				req.TopP = &topP
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Evaluator.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return printEvaluation(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringSliceVar(&aspects, "aspects", nil, "sections to compare: Thinking, Reflection, Final Output (default all)")
	cmd.Flags().StringVar(&req.JudgeModel, "judge", "", "judge model (default from config)")
	cmd.Flags().StringSliceVar(&req.Metrics, "metrics", nil, "extra metrics to score")
	cmd.Flags().StringVar(&req.CustomCriteria, "criteria", "", "custom evaluation criteria")
	cmd.Flags().StringSliceVar(&labels, "labels", nil, "names for the two sides (default Response A,Response B)")
	cmd.Flags().BoolVar(&persist, "persist", true, "store the evaluation")
	cmd.Flags().Float64Var(&temp, "temperature", 0.2, "judge sampling temperature")
	cmd.Flags().Float64Var(&topP, "top-p", 0.9, "judge nucleus sampling top-p")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}

func printEvaluation(w io.Writer, res *evaluation.Result) error {
	fmt.Fprintf(w, "%s\n\n", res.Verdict)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "METRIC\t%s\t%s\n", res.Labels[0], res.Labels[1])
	for _, m := range res.Metrics {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m, score(res.Scores[res.Labels[0]], m), score(res.Scores[res.Labels[1]], m))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if res.EvaluationID != 0 {
		fmt.Fprintf(w, "\nSaved evaluation %d\n", res.EvaluationID)
	}
	return nil
}

func score(scores map[string]int, metric string) string {
	if v, ok := scores[metric]; ok {
		return fmt.Sprintf("%d", v)
	}
	return "-"
}

