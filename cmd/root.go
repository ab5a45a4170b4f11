// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the partmig version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("PARTMIG")
	viper.AutomaticEnv()
}

var rootCmd = &cobra.Command{
	Use:          "partmig",
	Short:        "Stream partitioned table data between PostgreSQL instances",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(initCmd())

	return rootCmd.Execute()
}
