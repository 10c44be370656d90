// Command pdsyncd is the sync daemon's CLI: it runs the daemon itself
// (run) and sends control-plane signals to an already-running instance
// (pause, resume, stop, status, refresh, init-config).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/paths"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
	"github.com/MiMillieuh/proton-drive-sync/internal/store/sqlite"
)

// Version is set by the release build; left as "dev" for local builds.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pdsyncd",
	Short: "Background daemon that mirrors local directories to encrypted cloud storage",
	Version: Version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore is the shared helper every control-plane subcommand uses to
// reach the embedded store without spinning up the rest of the daemon.
func openStore(ctx context.Context) (*sqlite.SyncStore, error) {
	dbPath, err := paths.DBPath()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(ctx, dbPath)
}

// sendControlSignal opens the store, sends name, and reports whether the
// daemon looked alive (RUNNING flag set) so the CLI can warn when the
// signal has no one listening.
func sendControlSignal(name store.SignalName, onSentMsg string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("opening daemon state: %w", err)
	}
	defer s.Close()

	running, err := s.HasFlag(ctx, store.FlagRunning)
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintln(os.Stderr, "warning: daemon does not appear to be running")
	}
	if err := s.SendSignal(ctx, name); err != nil {
		return err
	}
	fmt.Println(onSentMsg)
	return nil
}
