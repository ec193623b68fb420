package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/pipeline"
	"github.com/nhle/inbox-triage/internal/report"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/ui/watch"
)

var (
	ingestWindow windowFlags
	runWindow    windowFlags
	phaseLimit   int
	runSkip      bool
	runJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch messages from the mailbox into the database",
	Long: `Fetches every message received in the window and stores the new ones.
Messages already stored (same provider id) are skipped, so reruns are safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		win, err := ingestWindow.window()
		if err != nil {
			return err
		}
		if win == (source.Window{}) {
			return fmt.Errorf("ingest needs --days or --since")
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ing, err := e.ingester(cmd.Context())
		if err != nil {
			return err
		}
		counts, err := ing.Ingest(cmd.Context(), win)
		if err != nil {
			return err
		}
		fmt.Printf("fetched %d, inserted %d, duplicates %d, failed %d\n",
			counts.Fetched, counts.Inserted, counts.SkippedDuplicate, counts.Failed)
		return nil
	},
}

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Assign a category to every unclassified message",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		cat, err := e.categorizer(cmd.Context())
		if err != nil {
			return err
		}
		counts, err := cat.CategorizePending(cmd.Context(), phaseLimit)
		if err != nil {
			return err
		}
		fmt.Printf("processed %d, classified %d, fallback %d, failed %d\n",
			counts.Processed, counts.Classified, counts.Fallback, counts.Failed)
		return nil
	},
}

var actCmd = &cobra.Command{
	Use:   "act",
	Short: "Run the handler for every categorized message not yet actioned",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		router, err := e.router(cmd.Context())
		if err != nil {
			return err
		}
		counts, err := router.RunPending(cmd.Context(), phaseLimit)
		if err != nil {
			return err
		}
		fmt.Printf("processed %d, succeeded %d, failed %d, no handler %d\n",
			counts.Processed, counts.Succeeded, counts.Failed, counts.NoHandler)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest, categorize, act and summarize in one pass",
	Long: `Runs every phase once. A failing phase is reported and later phases still
work on what is already stored, so an unreachable mailbox does not block
categorization. The command exits non-zero when any phase failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		win, err := runWindow.window()
		if err != nil {
			return err
		}
		if win == (source.Window{}) && !runSkip {
			return fmt.Errorf("run needs --days or --since unless --skip-ingest is set")
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		r, err := e.runner(cmd.Context(), runSkip)
		if err != nil {
			return err
		}
		res, err := r.RunOnce(cmd.Context(), pipeline.RunOptions{
			Window:     win,
			Limit:      phaseLimit,
			SkipIngest: runSkip,
			Summary:    true,
		}, nil)
		if err != nil {
			return err
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printRun(res)
		}

		if res.Failed() {
			return fmt.Errorf("%d phase(s) failed", len(res.Errors))
		}
		return nil
	},
}

func printRun(res *pipeline.RunResult) {
	fmt.Printf("ingest:     fetched %d, inserted %d, duplicates %d, failed %d\n",
		res.Ingest.Fetched, res.Ingest.Inserted, res.Ingest.SkippedDuplicate, res.Ingest.Failed)
	fmt.Printf("categorize: processed %d, classified %d, fallback %d, failed %d\n",
		res.Categorize.Processed, res.Categorize.Classified, res.Categorize.Fallback, res.Categorize.Failed)
	fmt.Printf("act:        processed %d, succeeded %d, failed %d, no handler %d\n",
		res.Act.Processed, res.Act.Succeeded, res.Act.Failed, res.Act.NoHandler)
	for _, pe := range res.Errors {
		fmt.Printf("%s failed: %s\n", pe.Phase, pe.Error)
	}
	if res.Report != nil {
		fmt.Println()
		fmt.Print(report.Text(res.Report))
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rerun the pipeline on an interval in a terminal view",
	Long: `Runs the pipeline immediately and then every pipeline.watch_interval,
showing phase progress and the latest messages. Logs go to a file so they do
not disturb the view.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		r, err := e.runner(cmd.Context(), false)
		if err != nil {
			return err
		}

		days := e.cfg.Pipeline.LookbackDays
		if days <= 0 {
			days = 1
		}
		p := pipeline.NewPoller(r, pipeline.PollerOptions{
			Interval: e.cfg.Pipeline.WatchInterval,
			Run:      pipeline.RunOptions{Window: source.Lookback(days), Limit: phaseLimit},
			Logger:   e.logger.Named("poller"),
		})
		defer p.Stop()

		load := func(ctx context.Context) (*report.Report, error) {
			return report.Build(ctx, e.store, report.Options{Limit: 200})
		}

		prog := tea.NewProgram(watch.New(p, load), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err = prog.Run()
		return err
	},
}

func init() {
	ingestWindow.register(ingestCmd, 1)
	runWindow.register(runCmd, 1)

	for _, c := range []*cobra.Command{categorizeCmd, actCmd, runCmd, watchCmd} {
		c.Flags().IntVar(&phaseLimit, "limit", 0, "maximum messages per phase (0 uses pipeline.batch_size)")
	}
	runCmd.Flags().BoolVar(&runSkip, "skip-ingest", false, "only process messages already stored")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
}
