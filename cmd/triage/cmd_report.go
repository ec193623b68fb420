package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/report"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/internal/theme"
)

var (
	summaryWindow windowFlags
	summaryFormat string
	summaryLimit  int
	summaryErrors int
	summaryRaw    bool
	summaryOut    string

	statsJSON bool

	purgeExternal bool
	purgeYes      bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize categorization and action results",
	Long: `Builds a read-only summary of the stored messages: totals, counts per
category pair, action success rate, recent failures and one line per message.
Formats are text, markdown (rendered for the terminal unless --raw or --out
is given) and json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(summaryFormat)
		if err != nil {
			return err
		}
		since, until, err := summaryWindow.bounds()
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		rep, err := report.Build(cmd.Context(), e.store, report.Options{
			Since:     since,
			Until:     until,
			Limit:     summaryLimit,
			MaxErrors: summaryErrors,
		})
		if err != nil {
			return err
		}

		out := os.Stdout
		if summaryOut != "" {
			f, err := os.Create(summaryOut)
			if err != nil {
				return fmt.Errorf("creating %s: %w", summaryOut, err)
			}
			defer f.Close()
			out = f
		}

		switch format {
		case report.FormatJSON:
			return report.WriteJSON(out, rep)
		case report.FormatMarkdown:
			md := report.Markdown(rep)
			if summaryRaw || summaryOut != "" {
				_, err = fmt.Fprint(out, md)
				return err
			}
			rendered, err := glamour.Render(md, "auto")
			if err != nil {
				return fmt.Errorf("rendering markdown: %w", err)
			}
			_, err = fmt.Fprint(out, rendered)
			return err
		default:
			_, err = fmt.Fprint(out, report.Text(rep))
			return err
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts per table",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := e.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if statsJSON {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		for _, kv := range []struct {
			label string
			n     int
		}{
			{"Messages", stats.Messages},
			{"Unclassified", stats.Unclassified},
			{"Assignments", stats.Assignments},
			{"Actions", stats.Actions},
			{"Reviews", stats.Reviews},
		} {
			fmt.Printf("%s%d\n", theme.LabelStyle.Render(kv.label), kv.n)
		}
		fmt.Printf("%s%s\n", theme.LabelStyle.Render("Database"), e.cfg.Database.Path)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge ID",
	Short: "Delete a message with its assignments, actions and reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		lookup := e.store.GetMessage
		if purgeExternal {
			lookup = e.store.GetMessageByExternalID
		}
		msg, err := lookup(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no message %q", args[0])
		}
		if err != nil {
			return err
		}

		if !purgeYes {
			fmt.Printf("delete %q from %s (%s)? [y/N] ", msg.Subject, msg.Sender, msg.ID)
			var answer string
			_, _ = fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("aborted")
				return nil
			}
		}

		if err := e.store.PurgeMessage(ctx, msg.ID); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", msg.ID)
		return nil
	},
}

func init() {
	summaryWindow.register(summaryCmd, 0)
	summaryCmd.Flags().StringVarP(&summaryFormat, "format", "f", "text", "text, markdown or json")
	summaryCmd.Flags().IntVar(&summaryLimit, "limit", 50, "maximum message rows (0 for all)")
	summaryCmd.Flags().IntVar(&summaryErrors, "errors", 10, "maximum listed failures")
	summaryCmd.Flags().BoolVar(&summaryRaw, "raw", false, "print markdown without terminal rendering")
	summaryCmd.Flags().StringVarP(&summaryOut, "out", "o", "", "write to a file instead of stdout")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print counts as JSON")

	purgeCmd.Flags().BoolVar(&purgeExternal, "external-id", false, "treat ID as the provider message id")
	purgeCmd.Flags().BoolVarP(&purgeYes, "yes", "y", false, "do not ask for confirmation")
}
