package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/spf13/cobra"
)

var (
	flagEmail    string
	flagRole     string
	flagPassword string
	flagName     string
	flagNewRole  string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage admin identities",
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the first founder on an empty database",
	Long: `Create the first founder. Refused once any identity exists. Without
--password the password is read from the first line of stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg()
		if err != nil {
			return err
		}
		i, err := identities().Bootstrap(cmd.Context(), service.NewIdentity{
			Email:       flagEmail,
			DisplayName: flagName,
			Password:    password,
		})
		if err != nil {
			return err
		}
		return printIdentity("Bootstrapped", i)
	},
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin identity",
	Long: `Create an admin identity. Without --password the password is read
from the first line of stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg()
		if err != nil {
			return err
		}
		i, err := identities().Create(cmd.Context(), service.NewIdentity{
			Email:       flagEmail,
			DisplayName: flagName,
			Role:        domain.Role(flagRole),
			Password:    password,
		})
		if err != nil {
			return err
		}
		return printIdentity("Created", i)
	},
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := identities().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing identities: %w", err)
		}

		if flagJSON {
			out := make([]map[string]any, 0, len(ids))
			for _, i := range ids {
				out = append(out, identityView(i))
			}
			return printJSON(out)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tROLE\tSTATUS\tCREATED")
		for _, i := range ids {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", i.ID, i.Email, i.Role, i.Status, i.CreatedAt.Format(time.DateOnly))
		}
		return w.Flush()
	},
}

var identitySuspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Suspend an identity and revoke its sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := identities().SetStatus(cmd.Context(), flagEmail, domain.StatusSuspended)
		if err != nil {
			return err
		}
		return printIdentity("Suspended", i)
	},
}

var identityActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Re-activate a suspended identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := identities().SetStatus(cmd.Context(), flagEmail, domain.StatusActive)
		if err != nil {
			return err
		}
		return printIdentity("Activated", i)
	},
}

var identityRoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Change an identity's role and revoke its sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := identities().SetRole(cmd.Context(), flagEmail, domain.Role(flagNewRole))
		if err != nil {
			return err
		}
		return printIdentity("Updated", i)
	},
}

var identityRevokeCmd = &cobra.Command{
	Use:   "revoke-sessions",
	Short: "Sign an identity out everywhere",
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := identities().RevokeSessions(cmd.Context(), flagEmail)
		if err != nil {
			return err
		}
		return printIdentity("Revoked sessions of", i)
	},
}

func identities() *service.IdentityService {
	return &service.IdentityService{Store: db, Hasher: cryptox.NewArgon2Hasher()}
}

func passwordArg() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}
	return readLine()
}

func printIdentity(verb string, i domain.Identity) error {
	if flagJSON {
		return printJSON(identityView(i))
	}
	fmt.Printf("%s %s %s (%s, %s)\n", verb, i.Role, i.Email, i.ID, i.Status)
	return nil
}

func identityView(i domain.Identity) map[string]any {
	return map[string]any{
		"id":     i.ID,
		"email":  i.Email,
		"name":   i.DisplayName,
		"role":   i.Role,
		"status": i.Status,
	}
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	for _, c := range []*cobra.Command{bootstrapCmd, identityCreateCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "Email address (required)")
		c.Flags().StringVar(&flagPassword, "password", "", "Initial password (default: read from stdin)")
		c.Flags().StringVar(&flagName, "name", "", "Display name")
		_ = c.MarkFlagRequired("email")
	}
	identityCreateCmd.Flags().StringVar(&flagRole, "role", string(domain.RoleEmployee), "founder, admin or employee")

	for _, c := range []*cobra.Command{identitySuspendCmd, identityActivateCmd, identityRoleCmd, identityRevokeCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "Email address (required)")
		_ = c.MarkFlagRequired("email")
	}
	identityRoleCmd.Flags().StringVar(&flagNewRole, "role", "", "New role (required)")
	_ = identityRoleCmd.MarkFlagRequired("role")

	identityCmd.AddCommand(identityCreateCmd, identityListCmd, identitySuspendCmd, identityActivateCmd, identityRoleCmd, identityRevokeCmd)
	rootCmd.AddCommand(identityCmd, bootstrapCmd)
}
