package main

import (
	"github.com/spf13/cobra"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Inspect UTM campaign attribution",
}

var campaignResolveCmd = &cobra.Command{
	Use:   "resolve <utm-campaign>",
	Short: "Show the campaign code and category a UTM campaign maps to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadApp()
		if err != nil {
			return err
		}
		tables, err := rt.campaignTables()
		if err != nil {
			return err
		}
		code, ok := tables.Code(args[0])
		if !ok {
			cmd.Printf("%s: no campaign code\n", args[0])
			return nil
		}
		category, ok := tables.Category(code)
		if !ok {
			category = "-"
		}
		cmd.Printf("%s: code=%s category=%s\n", args[0], code, category)
		return nil
	},
}

func init() {
	campaignCmd.AddCommand(campaignResolveCmd)
	rootCmd.AddCommand(campaignCmd)
}
