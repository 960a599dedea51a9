package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/clipcast/clipcast-cli/internal/api"
	"github.com/clipcast/clipcast-cli/internal/auth"
	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var flagEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache your session",
	Long: `Log in to Clipcast with your account credentials.

The bearer token is cached in your user config directory so other
commands can use it.

Examples:
  clipcast login
  clipcast login --email you@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin()
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.Clear(); err != nil {
			return err
		}
		ui.PrintSuccess("Logged out")
		return nil
	},
}

func runLogin() error {
	cfg, err := LoadConfig(config.Options{Domain: flagDomain})
	if err != nil {
		return err
	}

	email := flagEmail
	if email == "" {
		email, err = promptLine("email", false)
		if err != nil {
			return err
		}
	}
	password, err := promptLine("password", true)
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Logging in...")
	defer stopSpinner()

	client := api.NewClient(cfg.APIBaseURL, "")
	resp, err := client.Login(context.Background(), email, password)
	if err != nil {
		return err
	}
	stopSpinner()

	err = auth.Save(auth.Credentials{
		Token:    resp.AccessToken,
		UserID:   resp.User.ID,
		Username: resp.User.Username,
		Email:    resp.User.Email,
	})
	if err != nil {
		return err
	}

	ui.PrintSuccessf("Logged in as %s", resp.User.Username)
	return nil
}

// promptLine runs a one-field textinput program. secret hides the
// typed value.
func promptLine(label string, secret bool) (string, error) {
	input := textinput.New()
	input.Prompt = label + ": "
	input.Focus()
	if secret {
		input.EchoMode = textinput.EchoPassword
	}

	model := &promptModel{input: input}
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return "", err
	}
	if model.aborted {
		return "", fmt.Errorf("canceled")
	}
	value := strings.TrimSpace(model.input.Value())
	if value == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	return value, nil
}

type promptModel struct {
	input   textinput.Model
	aborted bool
}

func (m *promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *promptModel) View() string {
	return m.input.View()
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVarP(&flagEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
}
