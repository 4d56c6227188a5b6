package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaycrm/internal/adsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the Meta and Google ad sync jobs once",
	Long: `Runs both ad platform sync jobs concurrently, records one sync_log row
per job and prints the report. Exits non-zero when any job failed.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	rt, err := loadApp()
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	store, err := rt.openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	orch := rt.orchestrator(store)
	if orch == nil {
		return errors.New("functions url not configured (set RELAYCRM_FUNCTIONS_URL)")
	}
	report := orch.Run(cmd.Context())

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	cmd.Println(string(encoded))
	if report.Status != adsync.ReportSuccess {
		return fmt.Errorf("sync finished with status %s", report.Status)
	}
	return nil
}
