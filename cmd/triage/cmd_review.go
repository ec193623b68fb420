package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/review"
	"github.com/nhle/inbox-triage/internal/theme"
)

var (
	exportWindow   windowFlags
	exportOut      string
	exportCategory string
	exportSubcat   string
	exportReviewed bool
	exportLimit    int
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Exchange categorizations with a human reviewer",
}

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write categorized messages awaiting review to a JSON or YAML file",
	Long: `Writes every message whose latest assignment has no review yet. Fill in
review_fields (approved, and for a correction corrected_category and
corrected_subcategory) and pass the file to "triage review import". The
format follows the file extension: .yaml or .yml for YAML, JSON otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		filter, err := exportFilter()
		if err != nil {
			return err
		}
		doc, err := e.exchange().ExportPending(cmd.Context(), filter)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(e.cfg.Review.Dir, "review-"+time.Now().Format("20060102-150405")+".json")
		}
		if err := review.WriteFile(out, doc); err != nil {
			return err
		}
		fmt.Printf("exported %d entries to %s\n", len(doc.Entries), out)
		return nil
	},
}

var reviewImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Apply the decisions from an edited review file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := review.ReadFile(args[0])
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.exchange().ImportReviews(cmd.Context(), doc)
		if err != nil {
			return err
		}
		printImport(res)
		return nil
	},
}

var reviewInteractiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Review pending messages one by one in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		filter, err := exportFilter()
		if err != nil {
			return err
		}
		ex := e.exchange()
		doc, err := ex.ExportPending(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(doc.Entries) == 0 {
			fmt.Println("nothing to review")
			return nil
		}

		pairs := e.tax.Pairs()
		decided := 0
		for i := range doc.Entries {
			stop, err := reviewEntry(&doc.Entries[i], i+1, len(doc.Entries), pairs)
			if errors.Is(err, huh.ErrUserAborted) {
				break
			}
			if err != nil {
				return err
			}
			if !doc.Entries[i].Review.Untouched() {
				decided++
			}
			if stop {
				break
			}
		}
		if decided == 0 {
			fmt.Println("no decisions recorded")
			return nil
		}

		res, err := ex.ImportReviews(cmd.Context(), doc)
		if err != nil {
			return err
		}
		printImport(res)
		return nil
	},
}

const (
	decisionApprove = "approve"
	decisionCorrect = "correct"
	decisionSkip    = "skip"
	decisionStop    = "stop"
)

// reviewEntry asks for a decision on one entry and records it in place.
// It reports whether the reviewer asked to stop.
func reviewEntry(entry *review.Entry, n, total int, pairs []model.Pair) (bool, error) {
	decision := decisionApprove
	if entry.Fallback {
		decision = decisionCorrect
	}
	var reasoning string

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Message %d of %d", n, total)).
				Description(describeEntry(entry)),
			huh.NewSelect[string]().
				Title("Decision").
				Options(
					huh.NewOption("Approve "+entry.OriginalPair().String(), decisionApprove),
					huh.NewOption("Correct the category", decisionCorrect),
					huh.NewOption("Skip", decisionSkip),
					huh.NewOption("Stop and import what I decided", decisionStop),
				).
				Value(&decision),
		),
	).Run()
	if err != nil {
		return false, err
	}

	switch decision {
	case decisionSkip:
		return false, nil
	case decisionStop:
		return true, nil
	}

	original := entry.OriginalPair().String()
	selected := original
	options := make([]huh.Option[string], 0, len(pairs))
	for _, p := range pairs {
		if decision == decisionCorrect && p.String() == original {
			continue
		}
		options = append(options, huh.NewOption(p.String(), p.String()))
	}

	var fields []huh.Field
	if decision == decisionCorrect {
		if len(options) == 0 {
			return false, fmt.Errorf("the taxonomy has no other pair to correct to")
		}
		selected = options[0].Value
		fields = append(fields, huh.NewSelect[string]().
			Title("Correct category").
			Options(options...).
			Value(&selected))
	}
	fields = append(fields, huh.NewInput().
		Title("Reasoning (optional)").
		Value(&reasoning))

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return false, err
	}

	if decision == decisionApprove {
		entry.Approve(reasoning)
		return false, nil
	}
	for _, p := range pairs {
		if p.String() == selected {
			entry.Correct(p, reasoning)
			break
		}
	}
	return false, nil
}

func describeEntry(entry *review.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From:       %s\n", entry.Sender)
	fmt.Fprintf(&sb, "Subject:    %s\n", entry.Subject)
	fmt.Fprintf(&sb, "Received:   %s\n", entry.Date.Local().Format("2006-01-02 15:04"))
	conf := fmt.Sprintf("%.2f", entry.Confidence)
	if entry.Fallback {
		conf += " (fallback)"
	}
	fmt.Fprintf(&sb, "Assigned:   %s  %s\n", entry.OriginalPair(), theme.ConfidenceStyle(entry.Confidence, entry.Fallback).Render(conf))
	if entry.Reasoning != "" {
		fmt.Fprintf(&sb, "Reasoning:  %s\n", entry.Reasoning)
	}
	if entry.ActionSummary != "" {
		fmt.Fprintf(&sb, "Action:     %s\n", entry.ActionSummary)
	}
	return sb.String()
}

func exportFilter() (review.ExportFilter, error) {
	since, until, err := exportWindow.bounds()
	if err != nil {
		return review.ExportFilter{}, err
	}
	filter := review.ExportFilter{
		Since:           since,
		Until:           until,
		IncludeReviewed: exportReviewed,
		Limit:           exportLimit,
	}
	switch {
	case exportCategory != "" && exportSubcat != "":
		filter.Pair = &model.Pair{Category: exportCategory, Subcategory: exportSubcat}
	case exportCategory != "" || exportSubcat != "":
		return review.ExportFilter{}, fmt.Errorf("--category and --subcategory must be used together")
	}
	return filter, nil
}

func printImport(res review.ImportResult) {
	fmt.Printf("applied %d (approved %d, corrected %d), unedited %d, already reviewed %d, rejected %d, failed %d\n",
		res.Applied, res.Approved, res.Corrected, res.Unedited, res.AlreadyReviewed, res.RejectedInvalid, res.Failed)
	for _, r := range res.Rejections {
		fmt.Println(theme.ErrorStyle.Render(fmt.Sprintf("  entry %d (%s): %s", r.Index, r.MessageID, r.Reason)))
	}
}

func init() {
	for _, c := range []*cobra.Command{reviewExportCmd, reviewInteractiveCmd} {
		exportWindow.register(c, 0)
		c.Flags().StringVar(&exportCategory, "category", "", "only this category (with --subcategory)")
		c.Flags().StringVar(&exportSubcat, "subcategory", "", "only this subcategory (with --category)")
		c.Flags().BoolVar(&exportReviewed, "include-reviewed", false, "also export messages already reviewed")
		c.Flags().IntVar(&exportLimit, "limit", 0, "maximum entries (0 for all)")
	}
	reviewExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default review.dir/review-<time>.json)")

	reviewCmd.AddCommand(reviewExportCmd, reviewImportCmd, reviewInteractiveCmd)
}
