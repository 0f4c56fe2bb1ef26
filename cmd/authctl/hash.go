package main

import (
	"fmt"

	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the peppered argon2id hash of a password",
	Long: `Print the stored form of a password, for seeding identities by hand.
Without an argument the password is read from stdin. The pepper file must
be the one the service uses.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			var err error
			if password, err = readLine(); err != nil {
				return err
			}
		}
		if password == "" {
			return fmt.Errorf("empty password")
		}

		hash, err := cryptox.NewArgon2Hasher().Hash(password)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
