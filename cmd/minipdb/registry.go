package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/modelconfig"
	"github.com/minipdb/minipdb/internal/registry"
)

func (c *cli) initCmd() *cobra.Command {
	var download bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty registry, or download the published one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if download {
				c.printf("Downloading database...\n")
				return c.fetch(cmd)
			}

			c.printf("Initializing database...\n")
			st, err := c.app.OpenStore()
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return err
			}
			c.printf("Initialized %s\n", c.app.Config().Database)
			return nil
		},
	}
	cmd.Flags().BoolVar(&download, "download", false, "Download the published registry instead of creating an empty one")
	return cmd
}

func (c *cli) insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <config-file>",
		Short: "Register a Stan program and its sampler settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modelconfig.ValidateFile(args[0])
			if err != nil {
				return err
			}
			c.printf("Inserting %s from %s...\n", cfg.ModelName, args[0])

			return c.app.WithRegistry(func(r *registry.Registry) error {
				res, err := r.Insert(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				for _, conflict := range res.Conflicts {
					c.printf("warning: %v\n", conflict)
				}
				if res.Inserted {
					c.printf("Inserted %s (program %s)\n", res.ModelName, res.ProgramHash)
				} else {
					c.printf("Nothing inserted for %s\n", res.ModelName)
				}
				return nil
			})
		},
	}
}

func (c *cli) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <config-file>",
		Short: "Update the sampler settings of a registered model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			raw, err := modelconfig.LoadFile(path)
			if err != nil {
				return err
			}
			name, err := modelconfig.ModelNameOf(raw, path)
			if err != nil {
				return err
			}
			partial, err := modelconfig.MetaOf(raw, path)
			if err != nil {
				return err
			}
			c.printf("Updating meta information using information in %s...\n", path)

			return c.app.WithRegistry(func(r *registry.Registry) error {
				settings, err := r.UpdateConfiguration(cmd.Context(), name, partial, path)
				if err != nil {
					return err
				}
				c.printf("%s: iter_warmup=%d iter_sampling=%d chains=%d parallel_chains=%d thin=%d seed=%d adapt_delta=%g max_treedepth=%d sig_figs=%d\n",
					name, settings.IterWarmup, settings.IterSampling, settings.Chains, settings.ParallelChains,
					settings.Thin, settings.Seed, settings.AdaptDelta, settings.MaxTreedepth, settings.SigFigs)
				return nil
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model>",
		Short: "Delete a model and all of its reference draws",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			prompt := fmt.Sprintf("This operation will delete all reference draws for %s,\nand all corresponding information from %s.\n\nThis operation can not be undone.\n\nAre you sure you want to proceed?",
				name, filepath.Base(c.app.Config().Database))
			if err := c.confirm(prompt, "canceled delete"); err != nil {
				return err
			}

			c.printf("deleting %s...\n", name)
			return c.app.WithRegistry(func(r *registry.Registry) error {
				removed, err := r.Delete(cmd.Context(), name)
				if err != nil {
					return err
				}
				if !removed.Any() {
					c.printf("%s is not in the registry\n", name)
					return nil
				}
				if removed.InProgram {
					c.printf("deleted %s from table Program\n", name)
				}
				if removed.InConfig {
					c.printf("deleted %s from table Meta\n", name)
				}
				if removed.HasMetric {
					c.printf("dropped table %s_metric\n", name)
				}
				if removed.HasDraws {
					c.printf("dropped table %s\n", name)
				}
				c.printf("Done.\n")
				return nil
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models and whether they have draws",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.WithRegistry(func(r *registry.Registry) error {
				models, err := r.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tREGISTERED\tHAS_RUN\tLAST_RUN")
				for _, m := range models {
					lastRun := "never"
					if m.LastRun != nil {
						lastRun = m.LastRun.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", m.Name, m.Presence.Registered(), m.Presence.HasRun(), lastRun)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) writeCmd() *cobra.Command {
	var programs string
	var dir string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write Stan programs and data to <dir>/<model>/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = c.app.Config().ProgramsDir
			}
			return c.app.WithRegistry(func(r *registry.Registry) error {
				names, err := r.List(cmd.Context())
				if err != nil {
					return err
				}
				if programs != "" {
					names = splitList(programs)
				}

				prompt := fmt.Sprintf("This operation will overwrite the Stan programs %s.\n\nThis operation can not be undone.\n\nAre you sure you want to proceed?",
					strings.Join(names, ", "))
				if err := c.confirm(prompt, "canceled write"); err != nil {
					return err
				}

				c.printf("Writing Stan programs...\n")
				for _, name := range names {
					m, err := r.Get(cmd.Context(), name)
					if regerrors.IsNotFound(err) {
						continue
					}
					if err != nil {
						return err
					}
					if err := writeProgram(dir, name, m.Definition.Code, m.Definition.Data); err != nil {
						return err
					}
					c.printf("%s\n", name)
				}
				c.printf("Done.\n")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&programs, "programs", "", "Comma separated model names (default all)")
	cmd.Flags().StringVar(&dir, "dir", "", "Target directory (default programs_dir)")
	return cmd
}

func writeProgram(dir, name, code, data string) error {
	target := filepath.Join(dir, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if err := os.WriteFile(filepath.Join(target, name+".stan"), []byte(code), 0o644); err != nil {
		return fmt.Errorf("write %s program: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(target, name+".json"), []byte(data), 0o644); err != nil {
		return fmt.Errorf("write %s data: %w", name, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
