package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/controlplane"
	"github.com/MiMillieuh/proton-drive-sync/internal/lockfile"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

var pauseFor string

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause syncing, optionally for a natural-language duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pauseFor == "" {
			return sendControlSignal(store.SignalPauseSync, "Sent pause-sync")
		}

		ctx := context.Background()
		s, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("opening daemon state: %w", err)
		}
		defer s.Close()

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		cp := controlplane.New(s, s, log, nil, lockfile.IsProcessAlive)
		resumeAt, err := cp.ParsePauseDuration(ctx, pauseFor)
		if err != nil {
			return err
		}
		if err := cp.PauseForDuration(ctx, resumeAt); err != nil {
			return err
		}
		fmt.Printf("Paused until %s\n", resumeAt.Format("15:04:05"))
		return nil
	},
}

func init() {
	pauseCmd.Flags().StringVar(&pauseFor, "for", "", `pause duration, e.g. "30 minutes" or "2h"`)
	rootCmd.AddCommand(pauseCmd)
}
