// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/partmig/partmig/cmd/flags"
	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/connopt"
	"github.com/partmig/partmig/pkg/validate"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run pre-flight checks against the supplied connections and date range without starting a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd)
		},
	}
	flags.ConnectionFlags(cmd)
	return cmd
}

type checkResult struct {
	name string
	ok   bool
	msg  string
}

func runValidate(cmd *cobra.Command) error {
	results := make([]checkResult, 0, 8)

	sourceCfg, sourceErr := connstr.Parse(flags.SourceURL())
	targetCfg, targetErr := connstr.Parse(flags.TargetURL())

	if sourceErr == nil {
		ok, msg := validate.ConnectionConfig(sourceCfg)
		results = append(results, checkResult{"source connection config", ok, msg})
	} else {
		results = append(results, checkResult{"source connection config", false, sourceErr.Error()})
	}
	if targetErr == nil {
		ok, msg := validate.ConnectionConfig(targetCfg)
		results = append(results, checkResult{"target connection config", ok, msg})
	} else {
		results = append(results, checkResult{"target connection config", false, targetErr.Error()})
	}

	ok, msg := validate.ProfileName(flags.ProfileID())
	results = append(results, checkResult{"profile name", ok, msg})

	ok, msg = validate.CompatMode(flags.CompatMode())
	results = append(results, checkResult{"compat mode", ok, msg})

	startDate, startErr := time.Parse(dateLayout, flags.StartDate())
	endDate, endErr := time.Parse(dateLayout, flags.EndDate())
	if startErr == nil && endErr == nil {
		ok, msg := validate.DateRange(startDate, endDate)
		results = append(results, checkResult{"date range", ok, msg})
	} else {
		results = append(results, checkResult{"date range", false, "start-date/end-date must be YYYY-MM-DD"})
	}

	if sourceErr == nil && targetErr == nil {
		probeAndRecord(&results, "source", sourceCfg)
		probeAndRecord(&results, "target", targetCfg)
	}

	return renderValidationResults(results)
}

func probeAndRecord(results *[]checkResult, role string, cfg connstr.Config) {
	category, msg := connopt.QuickProbe(cfg)
	ok := category == connopt.CategoryOK
	*results = append(*results, checkResult{fmt.Sprintf("%s reachability", role), ok, msg})
}

func renderValidationResults(results []checkResult) error {
	tableData := pterm.TableData{{"check", "result", "detail"}}
	allOK := true
	for _, r := range results {
		status := "ok"
		if !r.ok {
			status = "FAIL"
			allOK = false
		}
		tableData = append(tableData, []string{r.name, status, r.msg})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
		return err
	}
	if !allOK {
		return fmt.Errorf("validation failed")
	}
	return nil
}
