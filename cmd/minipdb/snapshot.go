package main

import (
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minipdb/minipdb/internal/summary"
)

func (c *cli) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload the registry to snapshot storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := c.app.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.app.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := snaps.Publish(cmd.Context(), st)
			if err != nil {
				return err
			}
			c.printf("Published %d models (%d bytes, %d compressed) to %s\n",
				len(m.Models), m.Size, m.CompressedSize, snaps.Location())
			return nil
		},
	}
}

func (c *cli) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Replace the registry with the published snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.fetch(cmd)
		},
	}
}

func (c *cli) fetch(cmd *cobra.Command) error {
	db := c.app.Config().Database
	if c.app.DatabaseExists() {
		prompt := fmt.Sprintf("File %s already exists.\n\nDo you want to delete it and proceed?", db)
		if err := c.confirm(prompt, "canceled download"); err != nil {
			return err
		}
	}

	snaps, err := c.app.Snapshots(cmd.Context())
	if err != nil {
		return err
	}
	m, err := snaps.Fetch(cmd.Context(), db)
	if err != nil {
		return err
	}
	c.printf("Fetched %d models published at %s\n", len(m.Models), m.CreatedAt.Format("2006-01-02 15:04:05"))
	c.printf("Done.\n")
	return nil
}

func (c *cli) summaryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary <model>",
		Short: "Print mean, sd and quantiles of a model's reference draws",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			draws, err := st.ReadTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			stats, err := summary.Summarize(draws)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(jsonSafe(stats))
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "parameter\tmean\tsd\tq05\tq50\tq95\t")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\t\n", s.Parameter, s.Mean, s.SD, s.Q05, s.Q50, s.Q95)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// jsonSafe replaces NaN, which encoding/json rejects, with zero.
func jsonSafe(stats []summary.Stat) []summary.Stat {
	out := make([]summary.Stat, len(stats))
	for i, s := range stats {
		for _, v := range []*float64{&s.Mean, &s.SD, &s.Q05, &s.Q50, &s.Q95} {
			if math.IsNaN(*v) {
				*v = 0
			}
		}
		out[i] = s
	}
	return out
}
