package main

import (
	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControlSignal(store.SignalStop, "Sent stop")
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
