// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/partmig/partmig/cmd/flags"
	"github.com/partmig/partmig/pkg/store"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the local embedded checkpoint/history store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sp, _ := pterm.DefaultSpinner.WithText("Initializing store...").Start()

			st, err := store.Open(cmd.Context(), flags.StorePath())
			if err != nil {
				sp.Fail(fmt.Sprintf("Failed to initialize store: %s", err))
				return err
			}
			defer st.Close() //nolint:errcheck

			sp.Success(fmt.Sprintf("Store ready at %s", flags.StorePath()))
			return nil
		},
	}
	flags.StorePathFlag(cmd)
	return cmd
}
