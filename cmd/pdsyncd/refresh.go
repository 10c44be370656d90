package main

import (
	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the dashboard collaborator to refresh its view",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControlSignal(store.SignalRefreshDash, "Sent refresh-dashboard")
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
