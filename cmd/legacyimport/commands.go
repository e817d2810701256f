package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/johnswift/legacyimport/internal/importable"
	"github.com/johnswift/legacyimport/internal/transfer"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/urfave/cli"
)

const (
	classFlagName           = "class"
	idFlagName              = "id"
	lookupsFlagName         = "lookups"
	workersFlagName         = "workers"
	jobsFlagName            = "jobs"
	continueOnErrorFlagName = "continue-on-error"
	outFlagName             = "out"
	limitFlagName           = "limit"
	fromCacheFlagName       = "from-cache"
)

func classFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  classFlagName,
		Usage: "legacy class to operate on, as declared in the mapping",
	})
}

func lookupsFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  lookupsFlagName,
		Usage: "JSONL lookup export used to warm the caches before importing",
	})
}

func idFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.Int64Flag{
		Name:  idFlagName,
		Usage: "legacy primary key",
	})
}

func requireStringFlag(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		if c.String(name) == "" {
			return fmt.Errorf("flag '--%s' was not specified", name)
		}
		return nil
	}
}

func requireInt64Flag(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		if !c.IsSet(name) {
			return fmt.Errorf("flag '--%s' was not specified", name)
		}
		return nil
	}
}

func mergeBeforeFuncs(funcs ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		for _, fn := range funcs {
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func importCommand() cli.Command {
	return cli.Command{
		Name:   "import",
		Usage:  "import a single legacy row",
		Flags:  lookupsFlag(idFlag(classFlag()...)...),
		Before: mergeBeforeFuncs(requireStringFlag(classFlagName), requireInt64Flag(idFlagName)),
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			m, err := env.model(c.String(classFlagName))
			if err != nil {
				return err
			}
			if err := env.warmLookups(ctx, c.String(lookupsFlagName)); err != nil {
				return err
			}

			target, err := m.Import(ctx, c.Int64(idFlagName))
			if err != nil {
				return err
			}
			if target == nil {
				fmt.Printf("%s#%d skipped\n", m.Class(), c.Int64(idFlagName))
				return nil
			}
			fmt.Printf("%s#%d imported as %s\n", m.Class(), c.Int64(idFlagName), target)
			return nil
		},
	}
}

func importAllCommand() cli.Command {
	return cli.Command{
		Name:   "import-all",
		Usage:  "import every legacy row of a class sequentially",
		Flags:  lookupsFlag(classFlag()...),
		Before: requireStringFlag(classFlagName),
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			m, err := env.model(c.String(classFlagName))
			if err != nil {
				return err
			}
			if err := env.warmLookups(ctx, c.String(lookupsFlagName)); err != nil {
				return err
			}

			result, err := m.ImportAll(ctx)
			printResult(os.Stdout, m, result)
			return err
		},
	}
}

func importBatchesCommand() cli.Command {
	return cli.Command{
		Name:  "import-batches",
		Usage: "import every legacy row of a class with concurrent workers",
		Flags: lookupsFlag(classFlag(
			cli.IntFlag{
				Name:  workersFlagName,
				Usage: "workers per page (overrides IMPORT_WORKERS)",
			},
			cli.IntFlag{
				Name:  jobsFlagName,
				Usage: "rows per worker per page (overrides IMPORT_JOBS_PER_WORKER)",
			},
			cli.BoolFlag{
				Name:  continueOnErrorFlagName,
				Usage: "keep importing after failures and report them at the end",
			})...),
		Before: requireStringFlag(classFlagName),
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			m, err := env.model(c.String(classFlagName))
			if err != nil {
				return err
			}
			if err := env.warmLookups(ctx, c.String(lookupsFlagName)); err != nil {
				return err
			}

			cfg := env.cfg.BatchConfig()
			if c.IsSet(workersFlagName) {
				cfg.Workers = c.Int(workersFlagName)
			}
			if c.IsSet(jobsFlagName) {
				cfg.JobsPerWorker = c.Int(jobsFlagName)
			}
			if c.Bool(continueOnErrorFlagName) {
				cfg.ContinueOnError = true
			}
			every := int64(cfg.PageSize())
			cfg.Progress = func(processed, _ int64, _ error) {
				if processed%every == 0 {
					grip.Info(message.Fields{
						"message":   "import progress",
						"class":     m.Class(),
						"processed": humanize.Comma(processed),
					})
				}
			}

			result, err := m.ImportAllInBatches(ctx, cfg)
			printResult(os.Stdout, m, result)
			return err
		},
	}
}

func lookupCommand() cli.Command {
	return cli.Command{
		Name:   "lookup",
		Usage:  "print the target id a legacy row was imported as",
		Flags:  lookupsFlag(idFlag(classFlag()...)...),
		Before: mergeBeforeFuncs(requireStringFlag(classFlagName), requireInt64Flag(idFlagName)),
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			m, err := env.model(c.String(classFlagName))
			if err != nil {
				return err
			}
			if err := env.warmLookups(ctx, c.String(lookupsFlagName)); err != nil {
				return err
			}

			legacyID := c.Int64(idFlagName)
			id, found, err := m.Lookup(ctx, legacyID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s#%d has not been imported into %s", m.Class(), legacyID, m.TargetClass())
			}
			fmt.Println(id)
			return nil
		},
	}
}

func exportLookupsCommand() cli.Command {
	return cli.Command{
		Name:  "export-lookups",
		Usage: "write the legacy to target id pairs of a class as JSONL",
		Flags: lookupsFlag(classFlag(
			cli.StringFlag{
				Name:  outFlagName,
				Usage: "output file (default stdout)",
			},
			cli.IntFlag{
				Name:  limitFlagName,
				Usage: "maximum pairs to export (0 = unlimited)",
			},
			cli.BoolFlag{
				Name:  fromCacheFlagName,
				Usage: "export the lookup cache warmed by --lookups instead of querying the target table",
			})...),
		Before: requireStringFlag(classFlagName),
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			m, err := env.model(c.String(classFlagName))
			if err != nil {
				return err
			}
			if err := env.warmLookups(ctx, c.String(lookupsFlagName)); err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if path := c.String(outFlagName); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}

			result, err := transfer.NewExporter(env.store).Export(ctx, w, m, transfer.ExportOptions{
				FromCache: c.Bool(fromCacheFlagName),
				Limit:     c.Int(limitFlagName),
			})
			if err != nil {
				return err
			}
			grip.Info(message.Fields{
				"message":  "exported lookups",
				"class":    m.Class(),
				"exported": result.Exported,
				"errors":   result.Errors,
			})
			return nil
		},
	}
}

func ensureTrackingCommand() cli.Command {
	return cli.Command{
		Name:  "ensure-tracking",
		Usage: "add legacy_id and legacy_class columns to every target table",
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext()
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer env.close()

			return env.ensureTracking(ctx)
		},
	}
}

func printResult(w io.Writer, m *importable.Model, result *importable.Result) {
	if result == nil {
		return
	}
	t := tabby.NewCustom(newTabWriter(w))
	t.AddHeader("Class", "Target", "Total", "Imported", "Skipped", "Errors", "Duration")
	t.AddLine(m.Class(), m.TargetClass(),
		humanize.Comma(result.Total),
		humanize.Comma(result.Imported),
		humanize.Comma(result.Skipped),
		humanize.Comma(result.Errors),
		result.Duration.Round(time.Millisecond).String())
	t.Print()
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
