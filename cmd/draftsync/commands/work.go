package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	workState string
	workKind  string
	workLimit int
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Inspect and control background work",
}

var workGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a work item",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkGet,
}

var workListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work items",
	RunE:  runWorkList,
}

var workCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a work item that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkCancel,
}

var workWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a work item until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkWatch,
}

func init() {
	workListCmd.Flags().StringVar(&workState, "state", "",
		"Only list items in this state")
	workListCmd.Flags().StringVar(&workKind, "kind", "",
		"Only list items of this kind")
	workListCmd.Flags().IntVarP(&workLimit, "limit", "n", 20,
		"Maximum number of items to display")

	workCmd.AddCommand(workGetCmd)
	workCmd.AddCommand(workListCmd)
	workCmd.AddCommand(workCancelCmd)
	workCmd.AddCommand(workWatchCmd)
}

func runWorkGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	info, err := getClient().GetWork(ctx, args[0])
	if err != nil {
		return err
	}

	return printWork(info)
}

func runWorkList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	infos, err := getClient().ListWork(ctx, workState, workKind, workLimit)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(infos)
	}

	if len(infos) == 0 {
		fmt.Println("No work items.")
		return nil
	}

	for _, info := range infos {
		fmt.Print(formatWork(info))
	}

	return nil
}

func runWorkCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	info, err := getClient().CancelWork(ctx, args[0])
	if err != nil {
		return err
	}

	return printWork(info)
}

func runWorkWatch(cmd *cobra.Command, args []string) error {
	final, err := watch(getClient(), args[0], outputFormat != "json")
	if err != nil {
		return err
	}

	return printWork(final)
}
