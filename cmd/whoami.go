package cmd

import (
	"context"
	"fmt"

	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account you are logged in as",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWhoami()
	},
}

// runWhoami asks the API who the cached token belongs to, so it also
// serves as a quick check that the session is still valid.
func runWhoami() error {
	cfg, err := LoadConfig(config.Options{Domain: flagDomain})
	if err != nil {
		return err
	}
	_, client, err := requireLogin(cfg)
	if err != nil {
		return err
	}

	profile, err := client.Me(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(ui.BoldStyle.Render(profile.Username))
	fmt.Println(ui.MutedStyle.Render(profile.Email))
	if profile.FullName != "" {
		fmt.Println(profile.FullName)
	}
	if profile.Role != "" {
		fmt.Println(ui.MutedStyle.Render("role: " + profile.Role))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(whoamiCmd)

	whoamiCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
}
