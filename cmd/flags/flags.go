// SPDX-License-Identifier: Apache-2.0

// Package flags exposes typed getters over env-prefixed (PARTMIG_) viper
// bindings, so command bodies never call viper directly.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func SourceURL() string { return viper.GetString("SOURCE_URL") }
func TargetURL() string { return viper.GetString("TARGET_URL") }

func StartDate() string { return viper.GetString("START_DATE") }
func EndDate() string   { return viper.GetString("END_DATE") }

func TableTypes() []string { return viper.GetStringSlice("TABLE_TYPES") }

func CompatMode() string    { return viper.GetString("COMPAT_MODE") }
func ErrorStrategy() string { return viper.GetString("ERROR_STRATEGY") }
func TruncateMode() string  { return viper.GetString("TRUNCATE_MODE") }
func BatchSize() int        { return viper.GetInt("BATCH_SIZE") }
func StorePath() string     { return viper.GetString("STORE_PATH") }
func ProfileID() string     { return viper.GetString("PROFILE_ID") }
func HistoryID() string     { return viper.GetString("HISTORY_ID") }

// ConnectionFlags registers the source/target connection and job-shape
// flags shared by migrate and validate, binding each to a PARTMIG_-
// prefixed viper key.
func ConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("source-url", "", "Source Postgres connection URL")
	cmd.Flags().String("target-url", "", "Target Postgres connection URL")
	cmd.Flags().String("start-date", "", "Start date (YYYY-MM-DD), inclusive")
	cmd.Flags().String("end-date", "", "End date (YYYY-MM-DD), inclusive")
	cmd.Flags().StringSlice("table-types", nil, "Table type codes to migrate (PH, TH, ED, RT)")
	cmd.Flags().String("compat-mode", "auto", "Version compatibility mode: auto, 9.3, or 16")
	cmd.Flags().String("error-strategy", "skip_partition_on_error", "stop_on_error or skip_partition_on_error")
	cmd.Flags().String("truncate-mode", "auto", "auto or ask, for non-empty target partitions")
	cmd.Flags().Int("batch-size", 100_000, "Rows per COPY chunk / legacy INSERT page")
	cmd.Flags().String("store-path", defaultStorePath, "Path to the local embedded checkpoint/history store")
	cmd.Flags().String("profile-id", "default", "Connection profile identifier recorded on history")

	viper.BindPFlag("SOURCE_URL", cmd.Flags().Lookup("source-url"))
	viper.BindPFlag("TARGET_URL", cmd.Flags().Lookup("target-url"))
	viper.BindPFlag("START_DATE", cmd.Flags().Lookup("start-date"))
	viper.BindPFlag("END_DATE", cmd.Flags().Lookup("end-date"))
	viper.BindPFlag("TABLE_TYPES", cmd.Flags().Lookup("table-types"))
	viper.BindPFlag("COMPAT_MODE", cmd.Flags().Lookup("compat-mode"))
	viper.BindPFlag("ERROR_STRATEGY", cmd.Flags().Lookup("error-strategy"))
	viper.BindPFlag("TRUNCATE_MODE", cmd.Flags().Lookup("truncate-mode"))
	viper.BindPFlag("BATCH_SIZE", cmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("STORE_PATH", cmd.Flags().Lookup("store-path"))
	viper.BindPFlag("PROFILE_ID", cmd.Flags().Lookup("profile-id"))
}

// StorePathFlag registers just --store-path, for commands that don't need
// the full connection flag set (status, init).
func StorePathFlag(cmd *cobra.Command) {
	cmd.Flags().String("store-path", defaultStorePath, "Path to the local embedded checkpoint/history store")
	viper.BindPFlag("STORE_PATH", cmd.Flags().Lookup("store-path"))
}

func HistoryIDFlag(cmd *cobra.Command) {
	cmd.Flags().String("history-id", "", "History record id to show")
	viper.BindPFlag("HISTORY_ID", cmd.Flags().Lookup("history-id"))
}

const defaultStorePath = "./partmig.db"
