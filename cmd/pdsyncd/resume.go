package main

import (
	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControlSignal(store.SignalResumeSync, "Sent resume-sync")
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
