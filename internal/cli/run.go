package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cot-reflect/backend/internal/reflection"
)

type runFlags struct {
	question     string
	systemPrompt string
	cotPrompt    string
	documentPath string
	model        string
	temperature  float64
	topP         float64
	save         string
	tags         string
	verbose      bool
	asJSON       bool
}

func newRunCmd(o *options) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reflection",
		Long: `Runs thinking, reflection and output stages against a model, plus a
direct baseline answer, and prints every section.`,
		Example: `  # Ask a question with the configured default prompts
  reflectctl run -m "OpenAI gpt-4o" -q "Is 1009 prime?"

  # Ground the question in a document and save the run
  reflectctl run -m "Llama 3.3 70B" -q "Can I end the lease early?" \
    --document ./lease.html --save "lease early exit" --tags contract

  # Stream each stage to stderr as it completes
  reflectctl run -m "Gemini 2.0 Flash" -q "Plan a 3 day trip" --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			req := reflection.Request{
				SystemPrompt: f.systemPrompt,
				CoTPrompt:    f.cotPrompt,
				Question:     f.question,
				Model:        f.model,
				Temperature:  a.Config.Reflection.Temperature,
				TopP:         a.Config.Reflection.TopP,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = f.temperature
			}
			if cmd.Flags().Changed("top-p") {
				req.TopP = f.topP
			}

			if f.documentPath != "" {
				data, err := os.ReadFile(f.documentPath)
				if err != nil {
					return fmt.Errorf("failed to read document: %w", err)
				}
				doc, err := a.Extractor.Extract(filepath.Base(f.documentPath), "", data)
				if err != nil {
					return err
				}
				req.DocumentContent = doc.Content
			}

			var opts []reflection.RunOption
			if f.verbose {
				stderr := cmd.ErrOrStderr()
				opts = append(opts, reflection.WithObserver(func(stage reflection.Stage, text string) {
					fmt.Fprintf(stderr, "--- %s ---\n%s\n\n", stage, text)
				}))
			}

			out, err := a.Pipeline.Process(ctx, req, opts...)
			if err != nil {
				return err
			}

			var snapshotID int64
			if f.save != "" {
				snapshotID, err = a.Snapshots.Create(ctx, out.SnapshotInput(f.save, f.tags))
				if err != nil {
					return err
				}
			}

			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					*reflection.Outcome
					SnapshotID int64 `json:"snapshot_id,omitempty"`
				}{out, snapshotID})
			}

			printOutcome(cmd.OutOrStdout(), out)
			if snapshotID != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved snapshot %d\n", snapshotID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.question, "question", "q", "", "question to answer (required)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model name from the models list (required)")
	cmd.Flags().StringVar(&f.systemPrompt, "system", "", "system prompt (default is the built-in prompt)")
	cmd.Flags().StringVar(&f.cotPrompt, "cot", "", "chain-of-thought instruction (default is the built-in prompt)")
	cmd.Flags().StringVar(&f.documentPath, "document", "", "text, markdown or HTML file to ground the question in")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().Float64Var(&f.topP, "top-p", 0.95, "nucleus sampling top-p")
	cmd.Flags().StringVar(&f.save, "save", "", "save the run as a snapshot with this name")
	cmd.Flags().StringVar(&f.tags, "tags", "", "tags for the saved snapshot")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print each stage to stderr as it completes")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func printOutcome(w io.Writer, out *reflection.Outcome) {
	sections := []struct{ title, body string }{
		{"Initial response", out.InitialResponse},
		{"Thinking", out.Thinking},
		{"Reflection", out.Reflection},
		{"Final output", out.FinalOutput},
	}
	for _, s := range sections {
		fmt.Fprintf(w, "## %s\n%s\n\n", s.title, s.body)
	}
	if out.UsedFallback {
		fmt.Fprintln(w, "(final output came from the fallback prompt)")
	}
	for _, e := range out.StageErrors {
		fmt.Fprintf(w, "stage error: %s\n", e)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
