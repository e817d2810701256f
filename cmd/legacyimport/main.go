// Package main provides the entry point for the legacy import CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnswift/legacyimport/internal/config"
	"github.com/johnswift/legacyimport/internal/db"
	"github.com/johnswift/legacyimport/internal/importable"
	"github.com/johnswift/legacyimport/internal/mapping"
	"github.com/johnswift/legacyimport/internal/sqlite"
	"github.com/johnswift/legacyimport/internal/transfer"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"
)

const (
	levelFlagName   = "level"
	mappingFlagName = "mapping"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "legacyimport"
	app.Usage = "import legacy rows into new-schema tables"
	app.Version = "1.0.0"

	app.Commands = []cli.Command{
		importCommand(),
		importAllCommand(),
		importBatchesCommand(),
		lookupCommand(),
		exportLookupsCommand(),
		ensureTrackingCommand(),
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  levelFlagName,
			Value: "info",
			Usage: "lowest visible log level: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
		cli.StringFlag{
			Name:  mappingFlagName,
			Usage: "path to the model mapping file (overrides IMPORT_MAPPING)",
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String(levelFlagName))
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}

// backend is a store the CLI can import through, export from and migrate.
type backend interface {
	importable.Store
	transfer.Source
	mapping.Binder
	EnsureTracking(ctx context.Context, class string) error
}

// environment is everything a command needs, built from config and mapping.
type environment struct {
	cfg      *config.Config
	store    backend
	registry *importable.Registry
	models   []*importable.Model
	close    func()
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func setupEnvironment(ctx context.Context, c *cli.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if path := c.GlobalString(mappingFlagName); path != "" {
		cfg.MappingPath = path
	}

	mappingFile, err := mapping.Load(cfg.MappingPath)
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}

	env := &environment{cfg: cfg}
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		env.store = store
		env.close = func() { grip.Warning(store.Close()) }
	default:
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		env.store = database
		env.close = database.Close
	}

	env.registry = importable.NewRegistry(env.store)
	env.models, err = mappingFile.Apply(env.registry, env.store)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("apply mapping: %w", err)
	}

	if cfg.EnsureTracking {
		if err := env.ensureTracking(ctx); err != nil {
			env.close()
			return nil, err
		}
	}

	grip.Debug(message.Fields{
		"message": "environment ready",
		"driver":  cfg.Driver,
		"mapping": cfg.MappingPath,
		"models":  env.registry.Classes(),
	})
	return env, nil
}

func (e *environment) ensureTracking(ctx context.Context) error {
	for _, class := range mapping.TargetClasses(e.models) {
		if err := e.store.EnsureTracking(ctx, class); err != nil {
			return fmt.Errorf("ensure tracking on %s: %w", class, err)
		}
		grip.Info(message.Fields{
			"message": "tracking columns ready",
			"class":   class,
		})
	}
	return nil
}

func (e *environment) model(class string) (*importable.Model, error) {
	m, ok := e.registry.Model(class)
	if !ok {
		return nil, fmt.Errorf("class %q is not declared in %s", class, e.cfg.MappingPath)
	}
	return m, nil
}

// warmLookups seeds lookup caches from a JSONL export.
func (e *environment) warmLookups(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open lookups: %w", err)
	}
	defer f.Close()

	result, err := transfer.NewImporter(e.registry).Import(ctx, f, transfer.ImportOptions{})
	if err != nil {
		return fmt.Errorf("import lookups: %w", err)
	}
	grip.Info(message.Fields{
		"message":  "warmed lookup caches",
		"path":     path,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
	})
	return nil
}
