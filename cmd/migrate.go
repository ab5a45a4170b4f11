// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/partmig/partmig/cmd/flags"
	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/orchestrator"
	"github.com/partmig/partmig/pkg/pgversion"
	"github.com/partmig/partmig/pkg/store"
	"github.com/partmig/partmig/pkg/tablecreator"
)

const dateLayout = "2006-01-02"

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Discover partitions in the date range and copy their rows from source to target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd)
		},
	}
	flags.ConnectionFlags(cmd)
	return cmd
}

func runMigrate(cmd *cobra.Command) error {
	ctx := cmd.Context()

	sourceCfg, err := connstr.Parse(flags.SourceURL())
	if err != nil {
		return errkind.Wrap(errkind.Config, "parse source-url", err)
	}
	targetCfg, err := connstr.Parse(flags.TargetURL())
	if err != nil {
		return errkind.Wrap(errkind.Config, "parse target-url", err)
	}

	startDate, err := time.Parse(dateLayout, flags.StartDate())
	if err != nil {
		return errkind.Wrap(errkind.Config, "parse start-date", err)
	}
	endDate, err := time.Parse(dateLayout, flags.EndDate())
	if err != nil {
		return errkind.Wrap(errkind.Config, "parse end-date", err)
	}

	st, err := store.Open(ctx, flags.StorePath())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	errorStrategy := orchestrator.SkipPartitionOnError
	if flags.ErrorStrategy() == string(orchestrator.StopOnError) {
		errorStrategy = orchestrator.StopOnError
	}
	truncateMode := tablecreator.TruncateAuto
	if flags.TruncateMode() == string(tablecreator.TruncateAsk) {
		truncateMode = tablecreator.TruncateAsk
	}

	emitter := events.NewPterm()
	job := orchestrator.New(st, sourceCfg, targetCfg,
		orchestrator.WithCompatMode(pgversion.CompatMode(flags.CompatMode())),
		orchestrator.WithTruncateMode(truncateMode),
		orchestrator.WithErrorStrategy(errorStrategy),
		orchestrator.WithBatchSize(flags.BatchSize()),
		orchestrator.WithEmitter(emitter),
	)

	historyID, runErr := job.Run(ctx, flags.ProfileID(), startDate, endDate, flags.TableTypes())

	summary, sumErr := st.History.GetByID(ctx, historyID)
	if sumErr == nil {
		printHistorySummary(summary)
	}

	if runErr != nil {
		return runErr
	}
	return nil
}

func printHistorySummary(h store.History) {
	tableData := pterm.TableData{
		{"history_id", h.ID},
		{"status", h.Status},
		{"date range", fmt.Sprintf("%s to %s", h.StartDate, h.EndDate)},
		{"processed rows", fmt.Sprintf("%d", h.ProcessedRows)},
		{"source connection", h.SourceConnectionStatus},
		{"target connection", h.TargetConnectionStatus},
	}
	_ = pterm.DefaultTable.WithData(tableData).Render()
}
