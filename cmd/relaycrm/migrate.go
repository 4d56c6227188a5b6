package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the leads, opportunities and sync_log tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := loadApp()
		if err != nil {
			return err
		}
		store, err := rt.openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		cmd.Printf("Schema ready (%s).\n", describeStore(store, rt.cfg.StoreDSN))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
