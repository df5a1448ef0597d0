package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/docwatch/internal/config"
	"github.com/hpungsan/docwatch/internal/db"
	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/mcp"
	"github.com/hpungsan/docwatch/internal/ops"
	"github.com/hpungsan/docwatch/internal/pipeline"
	"github.com/hpungsan/docwatch/internal/report"
	"github.com/hpungsan/docwatch/internal/watch"
	"github.com/hpungsan/docwatch/internal/web"
)

// newCLIApp creates the CLI application with all commands. Without a command it watches.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "docwatch",
		Usage:   "Watch a documentation tree and re-run extraction and indexing on change",
		Version: Version,
		Flags:   watchFlags(),
		Action:  runWatch,
		Commands: []*cli.Command{
			watchCmd(),
			checkCmd(),
			runsCmd(),
			mcpCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func configFlag() cli.Flag {
	return &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to the config file (searched upward from the working directory when omitted)"}
}

func stateDirFlag() cli.Flag {
	return &cli.StringFlag{Name: "state-dir", Usage: "Directory holding the run history (overrides the config file)"}
}

func watchFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.BoolFlag{Name: "verbose", Usage: "Enable debug logging"},
		&cli.BoolFlag{Name: "no-initial-index", Usage: "Do not run the pipeline at startup"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Log the pipeline commands instead of running them"},
	}
}

// watchCmd creates the watch command.
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Watch the repository and run the pipeline after changes settle (default)",
		Flags:  watchFlags(),
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	logger := newLogger(c.App.ErrWriter, c.Bool("verbose"))
	dryRun := c.Bool("dry-run")

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return outputError(err)
	}
	if err := cfg.Validate(dryRun); err != nil {
		return outputError(err)
	}

	ctx, stopSignals := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// A dry run leaves no trace: no ledger file, no recorded runs.
	var database *sql.DB
	var recorder watch.RunRecorder
	if !dryRun {
		database, err = db.Init(cfg.StateDir)
		if err != nil {
			return outputError(errors.NewConfigurationf("open run history in %s: %v", cfg.StateDir, err))
		}
		defer database.Close()

		if n, err := db.MarkInterrupted(ctx, database, cfg.CollectionName, time.Now()); err != nil {
			logger.Warn("mark interrupted runs failed", "error", err)
		} else if n > 0 {
			logger.Info("marked interrupted runs", "count", n)
		}
		recorder = db.NewRecorder(database, cfg.CollectionName, cfg.HistoryLimit, logger)
	}

	w, err := watch.New(watch.Options{
		Config:       cfg,
		Logger:       logger,
		DryRun:       dryRun,
		InitialIndex: !c.Bool("no-initial-index"),
		Recorder:     recorder,
	})
	if err != nil {
		return outputError(err)
	}

	if err := w.Start(ctx); err != nil {
		return outputError(err)
	}
	logger.Info("docwatch started", "config", cfg.String(), "dry_run", dryRun)

	serverCtx, stopServer := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	if cfg.StatusAddr != "" {
		srv := web.NewServer(web.Options{
			DB:      database,
			Watcher: w,
			Version: Version,
			Addr:    cfg.StatusAddr,
			Logger:  logger,
		})
		go func() {
			defer close(serverDone)
			if err := web.Serve(serverCtx, srv, logger); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	} else {
		close(serverDone)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-w.Done():
	}

	stopErr := w.Stop()
	stopServer()
	<-serverDone
	if stopErr != nil {
		return outputError(stopErr)
	}
	return nil
}

// checkCmd creates the check command.
func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config and print the commands a run would invoke",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "dry-run", Usage: "Validate as for a dry run (index config may be missing)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return outputError(err)
			}
			if err := cfg.Validate(c.Bool("dry-run")); err != nil {
				return outputError(err)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "repository:  %s\n", cfg.RepositoryPath)
			fmt.Fprintf(out, "collection:  %s\n", cfg.CollectionName)
			fmt.Fprintf(out, "debounce:    %s\n", cfg.Debounce())
			fmt.Fprintf(out, "state dir:   %s\n", cfg.StateDir)
			for _, cmd := range pipeline.Build(cfg) {
				fmt.Fprintf(out, "%-12s %s\n", cmd.Step+":", cmd.String())
			}
			return nil
		},
	}
}

// runsCmd creates the runs command group.
func runsCmd() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect the run history",
		Subcommands: []*cli.Command{
			runsListCmd(),
			runsShowCmd(),
		},
	}
}

func runsListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List runs, newest first",
		Flags: []cli.Flag{
			configFlag(),
			stateDirFlag(),
			&cli.StringFlag{Name: "collection", Usage: "Collection name (defaults to the config's collection)"},
			&cli.BoolFlag{Name: "all", Usage: "List runs of every collection"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: running|succeeded|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items"},
			&cli.IntFlag{Name: "offset", Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			ledger, err := openLedger(c)
			if err != nil {
				return outputError(err)
			}
			defer ledger.Close()

			collection := c.String("collection")
			if collection == "" && !c.Bool("all") {
				collection = ledger.collection
			}

			output, err := ops.List(c.Context, ledger.db, ops.ListInput{
				Collection: collection,
				Status:     c.String("status"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func runsShowCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one run (the latest when no id is given)",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			configFlag(),
			stateDirFlag(),
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|markdown|html"},
			&cli.BoolFlag{Name: "no-output", Usage: "Exclude captured tool output"},
		},
		Action: func(c *cli.Context) error {
			format := strings.ToLower(c.String("format"))
			switch format {
			case "json", "markdown", "md", "html":
			default:
				return outputError(errors.NewInvalidRequest("format must be one of json, markdown, html"))
			}

			ledger, err := openLedger(c)
			if err != nil {
				return outputError(err)
			}
			defer ledger.Close()

			id := c.Args().First()
			if id == "" {
				latest, err := ops.Latest(c.Context, ledger.db, ops.LatestInput{Collection: ledger.collection})
				if err != nil {
					return outputError(err)
				}
				if latest.Item == nil {
					return outputError(errors.NewNotFound("latest"))
				}
				id = latest.Item.ID
			}

			input := ops.FetchInput{ID: id}
			if c.Bool("no-output") {
				includeOutput := false
				input.IncludeOutput = &includeOutput
			}
			output, err := ops.Fetch(c.Context, ledger.db, input)
			if err != nil {
				return outputError(err)
			}

			switch format {
			case "markdown", "md":
				_, err = io.WriteString(c.App.Writer, report.Markdown(&output.Run))
			case "html":
				_, err = io.WriteString(c.App.Writer, string(report.HTML(&output.Run)))
			default:
				err = outputJSON(c.App.Writer, output)
			}
			return err
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the run history as MCP tools over stdio",
		Flags: []cli.Flag{
			configFlag(),
			stateDirFlag(),
			&cli.StringFlag{Name: "disable", Usage: "Comma-separated tool names to disable"},
		},
		Action: func(c *cli.Context) error {
			disabled := splitList(c.String("disable"))
			if unknown := mcp.ValidateDisabledTools(disabled); len(unknown) > 0 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown tools: %s (valid: %s)",
					strings.Join(unknown, ", "), strings.Join(mcp.AllToolNames(), ", "))))
			}

			ledger, err := openLedger(c)
			if err != nil {
				return outputError(err)
			}
			defer ledger.Close()

			return mcp.Run(ledger.db, Version, disabled)
		},
	}
}

// loadConfig loads path, or the nearest config file above the working directory.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.NewConfigurationf("determine working directory: %v", err)
		}
		path = config.FindConfig(wd)
		if path == "" {
			return nil, errors.NewConfigurationf("no config file found (looked for %s); pass --config",
				strings.Join(config.ConfigFileNames, ", "))
		}
	}
	return config.Load(path)
}

// ledgerDB is an open run history plus the collection named by the config, if any.
type ledgerDB struct {
	db         *sql.DB
	collection string
}

func (l *ledgerDB) Close() error {
	return l.db.Close()
}

// openLedger opens the run history for the read-only commands. The config file is
// optional here: --state-dir alone is enough, and without either the default state
// directory is used.
func openLedger(c *cli.Context) (*ledgerDB, error) {
	stateDir := c.String("state-dir")
	collection := ""

	if c.String("config") != "" || stateDir == "" {
		cfg, err := loadConfig(c.String("config"))
		switch {
		case err == nil:
			collection = cfg.CollectionName
			if stateDir == "" {
				stateDir = cfg.StateDir
			}
		case c.String("config") != "":
			return nil, err
		}
	}
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.NewConfigurationf("could not determine home directory: %v", err)
		}
		stateDir = filepath.Join(home, config.DefaultStateDirName)
	}

	database, err := db.Init(stateDir)
	if err != nil {
		return nil, errors.NewConfigurationf("open run history in %s: %v", stateDir, err)
	}
	return &ledgerDB{db: database, collection: collection}, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if wErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", wErr.Code, wErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// splitList splits a comma-separated string, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			values = append(values, v)
		}
	}
	return values
}
