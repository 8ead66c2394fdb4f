package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/registry"
)

const overwritePrompt = "This operation will overwrite all previous reference draws."

func (c *cli) runCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "run <model>",
		Short: "Sample a registered model and store its reference draws",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			c.printf("Running model %s and storing reference draws...\n", name)

			var presence registry.Presence
			err := c.app.WithRegistry(func(r *registry.Registry) error {
				p, err := r.Exists(cmd.Context(), name)
				presence = p
				return err
			})
			if err != nil {
				return err
			}
			if !presence.InProgram && !presence.InConfig {
				return regerrors.NewNotFoundError(regerrors.CodeModelNotFound,
					fmt.Sprintf("Program %s does not exist in database, please insert first.", name))
			}
			if presence.HasRun() && overwrite {
				c.printf("overwrite turned on...\n")
				if err := c.confirm(overwritePrompt, "run canceled"); err != nil {
					return err
				}
			}

			orch, err := c.app.Orchestrator(0)
			if err != nil {
				return err
			}
			res, err := orch.RunOne(cmd.Context(), name, overwrite)
			if err != nil {
				return err
			}
			c.printf("Stored %d draws and %d metric columns for %s in %s\n",
				res.Rows, res.MetricColumns, name, res.Took.Round(time.Millisecond))
			c.printf("Done.\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing reference draws")
	return cmd
}

func (c *cli) runAllCmd() *cobra.Command {
	var overwrite bool
	var cpus int
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Sample every registered model",
		Long: `Samples every registered model across a pool of workers. Without
--overwrite, models that already have reference draws are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.printf("Running and storing reference draws for all models in database...\n")
			if overwrite {
				if err := c.confirm(overwritePrompt, "run canceled"); err != nil {
					return err
				}
			}

			orch, err := c.app.Orchestrator(cpus)
			if err != nil {
				return err
			}
			report, err := orch.RunAll(cmd.Context(), overwrite)
			if err != nil {
				return err
			}

			for _, name := range report.Skipped {
				c.printf("skipped %s (draws exist)\n", name)
			}
			for _, res := range report.Results {
				c.printf("ran %s: %d draws in %s\n", res.Model, res.Rows, res.Took.Round(time.Millisecond))
			}
			failed := report.Failed()
			for _, name := range failed {
				c.printf("failed %s: %v\n", name, report.Failures[name])
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d models failed: %s", len(failed), len(report.Candidates), strings.Join(failed, ", "))
			}
			c.printf("Done.\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Re-run models that already have reference draws")
	cmd.Flags().IntVar(&cpus, "cpus", 0, "Models sampled concurrently (default run.cpus)")
	return cmd
}
