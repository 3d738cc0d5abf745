package main

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/glc/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyState string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent upload runs",
		Long: `List upload runs recorded in the local history database, newest first.
Runs that failed while finalizing can be retried with glc finalize RUN_ID.`,
		Example: `  glc history
  glc history --limit 5
  glc history --state failed`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&historyState, "state", "", "only show runs in this state (running, done, failed)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	switch historyState {
	case "", store.StateRunning, store.StateDone, store.StateFailed:
	default:
		return fmt.Errorf("unknown state %q", historyState)
	}

	runs, err := globalStore.ListRuns(historyState, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No upload runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-20s %8s %10s %-10s %-8s %s\n", "Run", "App", "Build", "Size", "Mode", "State", "Started")
	fmt.Fprintln(out, strings.Repeat("-", 118))
	for _, r := range runs {
		app := r.AppName
		if app == "" {
			app = fmt.Sprintf("#%d", r.AppID)
		}
		state := r.State
		switch r.State {
		case store.StateDone:
			state = successStyle.Render(r.State)
		case store.StateFailed:
			state = errorStyle.Render(r.State)
		}
		fmt.Fprintf(out, "%-36s %-20s %8d %10s %-10s %-8s %s\n",
			r.ID,
			truncate(app, 20),
			r.BuildID,
			formatBytes(r.ArtifactSize),
			r.Mode,
			state,
			formatWhen(r.StartTime),
		)
		if r.State == store.StateFailed && r.ErrorKind != "" {
			fmt.Fprintf(out, "  %s %s\n", mutedStyle.Render(r.ErrorKind+":"), truncate(r.ErrorMessage, 100))
		}
	}

	return nil
}
