package commands

import (
	"fmt"

	"github.com/roasbeef/draftsync/internal/web"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage local accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a local account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the logged in account and its addresses",
	RunE:  runWhoami,
}

var (
	addressID          string
	addressEmail       string
	addressDisplayName string
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Manage the sending addresses of an account",
}

var addressAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a sending address to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddressAdd,
}

func init() {
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountShowCmd)

	addressAddCmd.Flags().StringVar(&addressID, "id", "",
		"Remote address ID (required)")
	addressAddCmd.Flags().StringVar(&addressEmail, "email", "",
		"Email address (required)")
	addressAddCmd.Flags().StringVar(&addressDisplayName, "name", "",
		"Display name used as the sender name")
	_ = addressAddCmd.MarkFlagRequired("id")
	_ = addressAddCmd.MarkFlagRequired("email")

	addressCmd.AddCommand(addressAddCmd)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	account, err := getClient().CreateAccount(ctx, args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(account)
	}

	fmt.Printf("Created account %s\n", account.Username)
	return nil
}

func runAddressAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	added, err := getClient().AddAddress(ctx, args[0], web.AddressJSON{
		ID:          addressID,
		DisplayName: addressDisplayName,
		Email:       addressEmail,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(added)
	}

	fmt.Printf("Added address %s <%s> to %s\n", added.ID, added.Email,
		args[0])
	return nil
}
