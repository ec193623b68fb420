// Command triage ingests mail, categorizes it against a taxonomy, runs
// category handlers and exchanges review files with a human.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/logging"
	"github.com/nhle/inbox-triage/internal/model"
)

var (
	configPath string
	dbPath     string
	verbose    bool
	logJSON    bool
	logFile    string

	cfg    *model.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Categorize an inbox against a configurable taxonomy",
	Long: `triage pulls messages from an IMAP or Gmail mailbox, assigns each one a
category and subcategory from the configured taxonomy, runs the handler
registered for that pair and lets a human review the result through an
exported JSON or YAML file.

A single pass is "triage run"; "triage watch" repeats it on an interval.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file := logFile
		if cmd.Name() == "watch" && file == "" {
			file = model.DefaultLogPath()
		}

		var err error
		logger, err = logging.New(logging.Options{Verbose: verbose, JSON: logJSON, File: file})
		if err != nil {
			return err
		}

		// config init writes the file, so it must not fail on a bad one.
		if cmd.Name() == "init" {
			return nil
		}

		cfg, err = model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		logger.Debug("configuration loaded",
			zap.String("path", configPath),
			zap.String("database", cfg.Database.Path),
			zap.String("mailbox", cfg.Mailbox.Provider),
			zap.String("classifier", cfg.Classifier.Provider),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", model.DefaultConfigPath(), "configuration file")
	pf.StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&logJSON, "log-json", false, "log JSON lines instead of console output")
	pf.StringVar(&logFile, "log-file", "", "write logs to a file instead of stderr")

	rootCmd.AddCommand(
		ingestCmd,
		categorizeCmd,
		actCmd,
		runCmd,
		watchCmd,
		reviewCmd,
		summaryCmd,
		statsCmd,
		purgeCmd,
		credentialsCmd,
		configCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
