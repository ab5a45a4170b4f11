// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/partmig/partmig/cmd/flags"
	"github.com/partmig/partmig/pkg/store"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a migration history record and its partition checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
	flags.StorePathFlag(cmd)
	flags.HistoryIDFlag(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := store.Open(ctx, flags.StorePath())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	h, err := st.History.GetByID(ctx, flags.HistoryID())
	if err != nil {
		return err
	}

	completedAt := ""
	if h.CompletedAt != nil {
		completedAt = h.CompletedAt.Format("2006-01-02 15:04:05")
	}
	historyData := pterm.TableData{
		{"history_id", h.ID},
		{"profile_id", h.ProfileID},
		{"status", h.Status},
		{"date range", fmt.Sprintf("%s to %s", h.StartDate, h.EndDate)},
		{"started_at", h.StartedAt.Format("2006-01-02 15:04:05")},
		{"completed_at", completedAt},
		{"processed_rows", fmt.Sprintf("%d", h.ProcessedRows)},
		{"source_connection", h.SourceConnectionStatus},
		{"target_connection", h.TargetConnectionStatus},
	}
	if err := pterm.DefaultTable.WithData(historyData).Render(); err != nil {
		return err
	}

	checkpoints, err := st.Checkpoint.GetByHistory(ctx, h.ID)
	if err != nil {
		return err
	}

	checkpointData := pterm.TableData{{"partition", "status", "copy_method", "rows_processed", "bytes_transferred", "last_key", "error"}}
	for _, c := range checkpoints {
		checkpointData = append(checkpointData, []string{
			c.PartitionName, c.Status, c.CopyMethod,
			fmt.Sprintf("%d", c.RowsProcessed), fmt.Sprintf("%d", c.BytesTransferred),
			c.LastKey, c.ErrorMessage,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(checkpointData).Render()
}
