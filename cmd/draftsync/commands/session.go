package commands

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in as a local account",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in account",
	RunE:  runWhoami,
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := getClient().Login(ctx, args[0]); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", args[0])
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := getClient().Logout(ctx); err != nil {
		return err
	}

	fmt.Println("Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	account, err := getClient().Session(ctx)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		fmt.Println("Not logged in")
		return nil
	}
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(account)
	}

	fmt.Printf("Logged in as %s\n", account.Username)
	for _, addr := range account.Addresses {
		name := addr.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %s: %s <%s>\n", addr.ID, name, addr.Email)
	}

	return nil
}
