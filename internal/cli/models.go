package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cot-reflect/backend/internal/provider"
)

func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			lister, ok := a.Invoker.(interface{ Models() []provider.Descriptor })
			if !ok {
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROVIDER\tMODEL ID\tTEMPERATURE\tTOP P")
			for _, d := range lister.Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%g-%g\t%g-%g\n", d.Name, d.Kind, d.ModelID,
					d.TemperatureRange.Min, d.TemperatureRange.Max, d.TopPRange.Min, d.TopPRange.Max)
			}
			return w.Flush()
		},
	}
}
