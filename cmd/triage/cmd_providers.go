package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/theme"
)

var (
	providersCheck   bool
	providersTimeout time.Duration
)

// providerStatus is one row of "config providers".
type providerStatus struct {
	Provider   string
	Model      string
	Selected   bool
	Ready      bool
	Credential string
	Check      string
}

// providerStatuses reports for every provider whether its credential can
// be found. lookup follows the vault order: environment first, then keyring.
func providerStatuses(cc model.ClassifierConfig, lookup func(key string) (string, error)) []providerStatus {
	var out []providerStatus
	for _, p := range classify.Providers {
		st := providerStatus{
			Provider: p,
			Model:    classify.DefaultModel(p),
			Selected: p == cc.Provider || (cc.Provider == "" && p == "keyword"),
		}
		if st.Selected && cc.Model != "" {
			st.Model = cc.Model
		}

		key := credential.APIKeyFor(p)
		switch {
		case key == "":
			st.Ready = true
			st.Credential = "not needed"
		default:
			val, err := lookup(key)
			switch {
			case err == nil && val != "":
				st.Ready = true
				st.Credential = key + " found"
			case err == nil, errors.Is(err, credential.ErrNotFound):
				st.Credential = fmt.Sprintf("missing; set %s or run 'triage credentials set %s'", credential.EnvVar(key), key)
			default:
				st.Credential = "error: " + err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

// checkProvider sends one classification to p and reports the outcome.
func checkProvider(ctx context.Context, st providerStatus, apiKey string, tax *model.Taxonomy, timeout time.Duration) string {
	c, err := classify.New(ctx, model.ClassifierConfig{
		Provider: st.Provider,
		Model:    st.Model,
		Timeout:  timeout,
	}, apiKey, logger.Named("providers"))
	if err != nil {
		return "error: " + err.Error()
	}
	res, err := c.Classify(ctx, classify.Request{
		Sender:   "deals@shop.example",
		Subject:  "Spring sale: 50% off everything",
		Content:  "Our biggest sale of the year. Unsubscribe at any time.",
		Taxonomy: tax,
	})
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok: " + res.Pair().String()
}

var configProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show which classifier providers are usable",
	Long: `Lists every classifier provider with its default model and whether its API
key is available. With --check, each usable provider classifies a sample
message so the key and model are verified end to end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := credential.Open("")
		if err != nil {
			return err
		}
		statuses := providerStatuses(cfg.Classifier, v.Lookup)

		if providersCheck {
			tax, err := model.NewTaxonomy(cfg.Taxonomy)
			if err != nil {
				return err
			}
			for i, st := range statuses {
				if !st.Ready {
					continue
				}
				var apiKey string
				if key := credential.APIKeyFor(st.Provider); key != "" {
					apiKey, _ = v.Lookup(key)
				}
				statuses[i].Check = checkProvider(cmd.Context(), st, apiKey, tax, providersTimeout)
			}
		}

		fmt.Println(renderProviders(statuses, providersCheck))
		return nil
	},
}

func renderProviders(statuses []providerStatus, withCheck bool) string {
	headers := []string{"Provider", "Model", "Credential"}
	if withCheck {
		headers = append(headers, "Check")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.TableHeaderStyle
			}
			return theme.TableCellStyle
		})

	for _, st := range statuses {
		name := st.Provider
		if st.Selected {
			name += " *"
		}
		modelName := st.Model
		if modelName == "" {
			modelName = "-"
		}
		row := []string{name, modelName, st.Credential}
		if withCheck {
			check := st.Check
			if check == "" {
				check = "skipped"
			}
			row = append(row, check)
		}
		t.Row(row...)
	}
	return t.Render() + "\n" + theme.HelpStyle.Render("* configured provider")
}

func init() {
	configProvidersCmd.Flags().BoolVar(&providersCheck, "check", false, "classify a sample message with each usable provider")
	configProvidersCmd.Flags().DurationVar(&providersTimeout, "timeout", 30*time.Second, "timeout per provider check")
	configCmd.AddCommand(configProvidersCmd)
}
