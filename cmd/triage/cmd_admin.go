package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source/gmail"
)

var configForce bool

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage secrets in the system keyring",
	Long: `Secrets live in the system keyring under the service "inbox-triage".
Known keys: ` + strings.Join(credential.Keys(), ", ") + `.
API keys and the IMAP password can also come from the environment
(ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY, TRIAGE_IMAP_PASSWORD), which wins over
the keyring.`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set KEY [VALUE]",
	Short: "Store a secret; prompts when VALUE is omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !credential.Known(key) {
			return fmt.Errorf("unknown credential %q (known: %s)", key, strings.Join(credential.Keys(), ", "))
		}
		if key == credential.KeyGmailToken {
			return errors.New("use 'triage credentials gmail-login' to store a Gmail token")
		}

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			err := huh.NewInput().
				Title(key).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("value is required")
					}
					return nil
				}).
				Value(&value).
				Run()
			if err != nil {
				return err
			}
		}

		v, err := credential.Open("")
		if err != nil {
			return err
		}
		if err := v.Set(key, strings.TrimSpace(value)); err != nil {
			return err
		}
		fmt.Printf("stored %s\n", key)
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Remove a secret from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !credential.Known(args[0]) {
			return fmt.Errorf("unknown credential %q", args[0])
		}
		v, err := credential.Open("")
		if err != nil {
			return err
		}
		if err := v.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var credentialsGmailCmd = &cobra.Command{
	Use:   "gmail-login",
	Short: "Authorize read-only Gmail access and store the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		gc := gmailConfig(cfg)
		if gc.ClientID == "" || gc.ClientSecret == "" {
			return errors.New("set mailbox.gmail_client_id and mailbox.gmail_client_secret first")
		}
		oc := gmail.OAuthConfig(gc)

		url := oc.AuthCodeURL("inbox-triage", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Printf("Open this URL, approve access and paste the code below:\n\n%s\n\n", url)

		var code string
		err := huh.NewInput().
			Title("Authorization code").
			Value(&code).
			Run()
		if err != nil {
			return err
		}

		tok, err := oc.Exchange(cmd.Context(), strings.TrimSpace(code))
		if err != nil {
			return fmt.Errorf("exchanging authorization code: %w", err)
		}
		v, err := credential.Open("")
		if err != nil {
			return err
		}
		if err := v.SaveToken(tok); err != nil {
			return err
		}
		fmt.Println("stored gmail token")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration with the default taxonomy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := model.SaveConfig(configPath, model.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration and database paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("config:   %s\n", configPath)
		fmt.Printf("database: %s\n", cfg.Database.Path)
		fmt.Printf("reviews:  %s\n", cfg.Review.Dir)
		fmt.Printf("log:      %s\n", model.DefaultLogPath())
		return nil
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd, credentialsGmailCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configPathCmd)
}
