package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/internal/domain/resource"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/spreadsheet"
)

func newResourcesCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Manage the learning resource catalog",
	}
	cmd.AddCommand(
		newResourcesImportCmd(rt),
		newResourcesListCmd(rt),
		newResourcesInitCmd(rt),
	)
	return cmd
}

func newResourcesImportCmd(rt *runtime) *cobra.Command {
	var (
		sheet string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "import FILE.xlsx",
		Short: "Validate a catalog workbook and install it as the tutor's catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := spreadsheet.ImportResources(args[0], sheet)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "processed %d row(s): %d imported, %d skipped\n", result.Processed, len(result.Resources), result.Skipped)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  skipped: %s\n", e)
			}
			if len(result.Resources) == 0 {
				return fmt.Errorf("no valid resources in %s", args[0])
			}

			dest := out
			if dest == "" {
				dest = rt.catalogPath()
			}
			if err := ensureDir(filepath.Dir(dest)); err != nil {
				return err
			}
			if err := spreadsheet.WriteResources(dest, result.Resources); err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "catalog written to %s\n", dest)
			return err
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", spreadsheet.DefaultResourceSheet, "sheet holding the catalog")
	cmd.Flags().StringVarP(&out, "out", "o", "", "where to install the catalog (default: the configured resources file)")
	return cmd
}

func newResourcesListCmd(rt *runtime) *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources the tutor can offer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := resource.NewCatalog(resource.Defaults()...)
			if path := rt.cfg.Tutor.ResourcesFile; path != "" {
				result, err := spreadsheet.ImportResources(path, "")
				if err != nil {
					return err
				}
				catalog.Replace(result.Resources)
			}

			items := catalog.All()
			if topic != "" {
				items = catalog.ForTopic(topic)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOPIC\tTITLE\tLEVEL\tURL")
			for _, r := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Topic, r.Title, r.Level, r.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only resources for this topic")
	return cmd
}

func newResourcesInitCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "init [FILE.xlsx]",
		Short: "Create a catalog workbook with the starter resources if it does not exist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rt.catalogPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := ensureDir(filepath.Dir(path)); err != nil {
				return err
			}
			created, err := spreadsheet.EnsureResources(path)
			if err != nil {
				return err
			}
			if created {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			}
			return err
		},
	}
}

func (rt *runtime) catalogPath() string {
	if rt.cfg.Tutor.ResourcesFile != "" {
		return rt.cfg.Tutor.ResourcesFile
	}
	return filepath.Join(rt.cfg.App.DataDir, "resources.xlsx")
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
