package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/lockfile"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
	"github.com/MiMillieuh/proton-drive-sync/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and recent job activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("opening daemon state: %w", err)
		}
		defer s.Close()

		return showStatus(ctx, s)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Paused   bool   `json:"paused"`
	ResumeAt string `json:"resume_at,omitempty"`
	Pending  int    `json:"pending"`
	Blocked  int    `json:"blocked"`
	Synced   int    `json:"synced"`
}

func showStatus(ctx context.Context, s interface {
	store.FlagBus
	store.JobStore
}) error {
	running, err := s.HasFlag(ctx, store.FlagRunning)
	if err != nil {
		return err
	}
	pid := 0
	if running {
		variant, _, err := s.GetFlagData(ctx, store.FlagRunning)
		if err == nil {
			if p, err := strconv.Atoi(variant); err == nil {
				pid = p
				running = lockfile.IsProcessAlive(pid)
			}
		}
	}

	paused, err := s.HasFlag(ctx, store.FlagPaused)
	if err != nil {
		return err
	}
	resumeAt := ""
	if paused {
		variant, _, err := s.GetFlagData(ctx, store.FlagPaused)
		if err == nil {
			resumeAt = variant
		}
	}

	counts, err := s.GetCounts(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		return outputStatusJSON(statusReport{
			Running:  running,
			PID:      pid,
			Paused:   paused,
			ResumeAt: resumeAt,
			Pending:  counts.Pending,
			Blocked:  counts.Blocked,
			Synced:   counts.Synced,
		})
	}

	renderStatus(running, pid, paused, resumeAt, counts)

	if counts.Blocked > 0 {
		if err := renderBlocked(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func renderStatus(running bool, pid int, paused bool, resumeAt string, counts store.Counts) {
	if !running {
		fmt.Println(ui.RenderMuted("○ not running"))
		fmt.Println("\n  To start: pdsyncd run")
		return
	}

	fmt.Printf("%s  (pid %d)\n\n", ui.RenderPass(ui.IconPass+" running"), pid)

	if paused {
		if resumeAt != "" {
			if t, err := time.Parse(time.RFC3339, resumeAt); err == nil {
				fmt.Printf("  %s until %s\n", ui.RenderWarn(ui.IconWarn+" paused"), t.Format("15:04:05"))
			} else {
				fmt.Printf("  %s\n", ui.RenderWarn(ui.IconWarn+" paused"))
			}
		} else {
			fmt.Printf("  %s\n", ui.RenderWarn(ui.IconWarn+" paused"))
		}
	} else {
		fmt.Printf("  %s\n", ui.RenderPass("syncing"))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "\n  Pending:\t%d\n", counts.Pending)
	fmt.Fprintf(w, "  Processing:\t%d\n", counts.Processing)
	fmt.Fprintf(w, "  Synced:\t%d\n", counts.Synced)
	fmt.Fprintf(w, "  Blocked:\t%s\n", blockedCountLabel(counts.Blocked))
	w.Flush()
}

func blockedCountLabel(n int) string {
	if n == 0 {
		return "0"
	}
	return ui.RenderFail(fmt.Sprintf("%d", n))
}

func renderBlocked(ctx context.Context, s store.JobStore) error {
	blocked, err := s.ListBlocked(ctx)
	if err != nil {
		return err
	}
	if len(blocked) == 0 {
		return nil
	}
	fmt.Println("\n  Blocked jobs:")
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "    %s\t%s\t%s\n", "EVENT", "PATH", "ERROR")
	for _, j := range blocked {
		fmt.Fprintf(w, "    %s\t%s\t%s\n", j.EventType, j.RemotePath, ui.RenderFail(j.LastError))
	}
	return w.Flush()
}

func outputStatusJSON(r statusReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
