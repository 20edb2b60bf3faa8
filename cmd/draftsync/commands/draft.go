package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/roasbeef/draftsync/internal/web"
	"github.com/spf13/cobra"
)

var (
	draftParentID string
	draftWait     bool
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Submit local messages as remote drafts",
}

var draftEnqueueCmd = &cobra.Command{
	Use:   "enqueue <message-db-id>",
	Short: "Schedule the submission of a saved message",
	Long: `Schedule the submission of a saved message as a remote draft. The
submission waits for the network and is retried with backoff. With --wait
the command follows the submission until it finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runDraftEnqueue,
}

func init() {
	draftEnqueueCmd.Flags().StringVar(&draftParentID, "parent", "",
		"Remote ID of the parent message")
	draftEnqueueCmd.Flags().BoolVarP(&draftWait, "wait", "w", false,
		"Wait until the submission finishes")

	draftCmd.AddCommand(draftEnqueueCmd)
}

func runDraftEnqueue(cmd *cobra.Command, args []string) error {
	dbID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", args[0])
	}

	client := getClient()

	ctx, cancel := commandContext()
	info, err := client.EnqueueDraft(ctx, dbID, draftParentID)
	cancel()
	if err != nil {
		return err
	}

	if !draftWait {
		return printWork(info)
	}

	if outputFormat != "json" {
		fmt.Printf("Enqueued %s, waiting...\n", info.ID)
	}

	final, err := watch(client, info.ID, outputFormat != "json")
	if err != nil {
		return err
	}

	return printWork(final)
}

// watch follows a work item until it finishes or the user interrupts.
func watch(client *Client, id string, progress bool) (web.WorkJSON, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var last string
	return client.WatchWork(ctx, id, func(info web.WorkJSON) {
		if !progress || string(info.State) == last {
			return
		}
		last = string(info.State)

		fmt.Printf("  %s\n", info.State)
	})
}
