package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

var (
	bypassRole  string
	bypassEmail string
	bypassName  string
	bypassJSON  bool
)

var bypassCmd = &cobra.Command{
	Use:   "bypass",
	Short: "Development and test bypass sessions",
}

var bypassTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bypass token for a role",
	Long: `Mint a bypass token that the gateway accepts in place of a provider
session. Only available outside production and in binaries built without the
production tag.

Example:
  sessionbridge bypass token --role company_user --email hr@example.com`,
	RunE: runBypassToken,
}

func init() {
	bypassTokenCmd.Flags().StringVar(&bypassRole, "role", string(token.RoleCandidate), "user type: candidate, company_user or admin")
	bypassTokenCmd.Flags().StringVar(&bypassEmail, "email", "", "email of the fabricated user")
	bypassTokenCmd.Flags().StringVar(&bypassName, "name", "", "display name of the fabricated user")
	bypassTokenCmd.Flags().BoolVar(&bypassJSON, "json", false, "print token, expiry and user as JSON")
	bypassCmd.AddCommand(bypassTokenCmd)
	rootCmd.AddCommand(bypassCmd)
}

func runBypassToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc := bypass.New(bypass.Config{
		Environment:   cfg.Environment,
		ExplicitOptIn: cfg.Bypass.Enabled,
		Lifetime:      cfg.Bypass.Lifetime,
	})
	if !svc.IsEnabled() {
		return autherrors.NewBypassDisabled()
	}

	role, err := token.ParseRole(bypassRole)
	if err != nil {
		return err
	}

	identity, err := svc.CreateBypassUser(role, bypass.Overrides{Email: bypassEmail, Name: bypassName})
	if err != nil {
		return err
	}
	raw, expiresAt, err := svc.GenerateToken(identity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !bypassJSON {
		fmt.Fprintln(out, raw)
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"token":     raw,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
		"user":      identity,
	})
}
