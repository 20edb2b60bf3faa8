package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roasbeef/draftsync/internal/web"
)

// commandContext returns the context of a single API call.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// outputJSON outputs data as JSON.
func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// formatWork formats a work snapshot for output.
func formatWork(info web.WorkJSON) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s [%s] %s\n", info.ID, info.Kind,
		info.State))
	sb.WriteString(fmt.Sprintf("  Attempts: %d/%d | Updated: %s\n",
		info.Attempts, info.MaxAttempts,
		info.UpdatedAt.Format(time.RFC3339)))

	if info.LastError != "" {
		sb.WriteString(fmt.Sprintf("  Last error: %s\n", info.LastError))
	}

	if info.Result != nil {
		sb.WriteString(fmt.Sprintf("  Result: %s", info.Result.Status))
		if info.Result.Reason != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", info.Result.Reason))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatMessage formats a message for output.
func formatMessage(msg web.MessageJSON) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("#%d: %s\n", msg.DBID, msg.Subject))
	sb.WriteString(fmt.Sprintf("  ID: %s", msg.MessageID))
	if msg.AddressID != "" {
		sb.WriteString(fmt.Sprintf(" | Address: %s", msg.AddressID))
	}
	if msg.ParentID != "" {
		sb.WriteString(fmt.Sprintf(" | Parent: %s", msg.ParentID))
	}
	sb.WriteString("\n")

	return sb.String()
}

// printWork prints a snapshot in the selected format.
func printWork(info web.WorkJSON) error {
	if outputFormat == "json" {
		return outputJSON(info)
	}

	fmt.Print(formatWork(info))
	return nil
}
