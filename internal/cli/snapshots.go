package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cot-reflect/backend/internal/snapshot"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/utils"
)

func newSnapshotsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot", "snap"},
		Short:   "List, show, delete and export saved runs",
	}

	cmd.AddCommand(
		newSnapshotsListCmd(o),
		newSnapshotsGetCmd(o),
		newSnapshotsDeleteCmd(o),
		newSnapshotsExportCmd(o),
	)
	return cmd
}

func newSnapshotsListCmd(o *options) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			list, err := a.Snapshots.List(cmd.Context(), search)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tCREATED\tTAGS\tPROMPT")
			for _, s := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.ModelName,
					s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Tags, utils.Truncate(s.UserPrompt, 40))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive match on name, prompt or tags")
	return cmd
}

func newSnapshotsGetCmd(o *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			s, err := a.Snapshots.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return writeJSON(cmd.OutOrStdout(), s)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(s)
			}
			return apperr.Invalid("format", "%q is not json or yaml", format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (json, yaml)")
	return cmd
}

func newSnapshotsDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Snapshots.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %d\n", id)
			return nil
		},
	}
}

func newSnapshotsExportCmd(o *options) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every snapshot as JSON, YAML or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := snapshot.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			data, err := a.Snapshots.Export(cmd.Context(), f)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format (json, yaml, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default is stdout)")
	return cmd
}
