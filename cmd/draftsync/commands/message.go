package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/roasbeef/draftsync/internal/web"
	"github.com/spf13/cobra"
)

var (
	messageDBID      int64
	messageID        string
	messageAddressID string
	messageSubject   string
	messageBody      string
	messageBodyFile  string
	messageParentID  string
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Manage local messages",
}

var messageSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Create or update a local message",
	Long: `Create a local message, or update one when --db-id is given. The
body is stored as given, use --body-file - to read it from stdin.`,
	RunE: runMessageSave,
}

var messageShowCmd = &cobra.Command{
	Use:   "show <db-id>",
	Short: "Show a local message",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessageShow,
}

func init() {
	messageSaveCmd.Flags().Int64Var(&messageDBID, "db-id", 0,
		"Local database ID of the message to update")
	messageSaveCmd.Flags().StringVar(&messageID, "id", "",
		"Client-assigned message ID (required)")
	messageSaveCmd.Flags().StringVar(&messageAddressID, "address", "",
		"Sending address ID")
	messageSaveCmd.Flags().StringVarP(&messageSubject, "subject", "s", "",
		"Subject line")
	messageSaveCmd.Flags().StringVarP(&messageBody, "body", "b", "",
		"Encrypted message body")
	messageSaveCmd.Flags().StringVar(&messageBodyFile, "body-file", "",
		"Read the body from a file, - for stdin")
	messageSaveCmd.Flags().StringVar(&messageParentID, "parent", "",
		"Remote ID of the message this one replies to")
	_ = messageSaveCmd.MarkFlagRequired("id")

	messageCmd.AddCommand(messageSaveCmd)
	messageCmd.AddCommand(messageShowCmd)
}

func runMessageSave(cmd *cobra.Command, args []string) error {
	body := messageBody
	if messageBodyFile != "" {
		var (
			data []byte
			err  error
		)
		if messageBodyFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(messageBodyFile)
		}
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		body = string(data)
	}

	ctx, cancel := commandContext()
	defer cancel()

	saved, err := getClient().SaveMessage(ctx, web.MessageJSON{
		DBID:      messageDBID,
		MessageID: messageID,
		AddressID: messageAddressID,
		Subject:   messageSubject,
		Body:      body,
		ParentID:  messageParentID,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(saved)
	}

	fmt.Printf("Saved message #%d (%s)\n", saved.DBID, saved.MessageID)
	return nil
}

func runMessageShow(cmd *cobra.Command, args []string) error {
	dbID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", args[0])
	}

	ctx, cancel := commandContext()
	defer cancel()

	msg, err := getClient().GetMessage(ctx, dbID)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(msg)
	}

	fmt.Print(formatMessage(msg))
	return nil
}
