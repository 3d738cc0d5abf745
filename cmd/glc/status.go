package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/BadgerOps/glc/internal/api"
	"github.com/BadgerOps/glc/internal/failure"
	"github.com/spf13/cobra"
)

var statusWait bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status BUILD_ID",
		Short: "Show the processing state of an uploaded build",
		Long: `Show the server-side processing state of a build. With --wait, poll until
the build reaches a terminal status.`,
		Example: `  glc status 501
  glc status 501 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: statusRun,
	}

	cmd.Flags().BoolVar(&statusWait, "wait", false, "poll until the build finishes processing")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalClient == nil {
		return fmt.Errorf("api client not initialized")
	}

	buildID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || buildID <= 0 {
		return failure.Errorf(failure.KindValidation, "status", "invalid build id %q", args[0])
	}

	if statusWait {
		return waitForBuild(cmd, buildID)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := globalClient.BuildStatus(ctx, buildID)
	if err != nil {
		return err
	}
	printBuildStatus(cmd.OutOrStdout(), st)
	return nil
}

func printBuildStatus(w io.Writer, st *api.BuildStatus) {
	status := st.Status
	switch {
	case !api.IsTerminalStatus(st.Status):
		status = warningStyle.Render(st.Status)
	case st.ErrorMessage != "":
		status = errorStyle.Render(st.Status)
	default:
		status = successStyle.Render(st.Status)
	}
	field(w, "Build", st.BuildID)
	field(w, "App", st.AppID)
	field(w, "Status", status)
	if st.StageProgress > 0 && !api.IsTerminalStatus(st.Status) {
		field(w, "Progress", fmt.Sprintf("%d%%", st.StageProgress))
	}
	if st.FileName != "" {
		field(w, "File", st.FileName)
	}
	if st.FileSize > 0 {
		field(w, "Size", formatBytes(st.FileSize))
	}
	if st.CompressedFileSize > 0 {
		field(w, "Compressed", formatBytes(st.CompressedFileSize))
	}
	if st.BuildNotes != "" {
		field(w, "Notes", st.BuildNotes)
	}
	if st.ErrorMessage != "" {
		field(w, "Error", st.ErrorMessage)
	}
}
