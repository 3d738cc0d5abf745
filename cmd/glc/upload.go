package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/glc/internal/api"
	"github.com/BadgerOps/glc/internal/engine"
	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/notify"
	"github.com/BadgerOps/glc/internal/packager"
	"github.com/BadgerOps/glc/internal/parts"
	"github.com/spf13/cobra"
)

var (
	uploadAppID     int64
	uploadAppName   string
	uploadPreset    string
	uploadNotes     string
	uploadFile      string
	uploadSkipBuild bool
	uploadWait      bool
	uploadSave      bool
	uploadMaxSize   string
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Package the project and upload the build",
		Long: `Export the project, compress it and upload the archive as a new build of
an app. The upload command will:
  1. Export the preset into Builds/GLC_Upload and compress it
  2. Open an upload session (multipart when the archive exceeds 500 MiB)
  3. Send every part in order, stopping at the first failure
  4. Finalize the build once every part is acknowledged

Use --skip-build to upload the build already on disk, or --file to upload
any archive. If finalizing fails after the bytes were sent, run
glc finalize RUN_ID to retry without uploading again.`,
		Example: `  glc upload --app-id 42 --preset "Windows Desktop"
  glc upload --app-id 42 --skip-build --notes "hotfix" --wait
  glc upload --app-id 42 --file ./Builds/MyGame_upload.zip`,
		RunE: uploadRun,
	}

	cmd.Flags().Int64Var(&uploadAppID, "app-id", 0, "app to upload to (defaults to upload.app_id)")
	cmd.Flags().StringVar(&uploadAppName, "app-name", "", "app name, used in output and notifications")
	cmd.Flags().StringVar(&uploadPreset, "preset", "", "export preset name or index (defaults to export.preset)")
	cmd.Flags().StringVar(&uploadNotes, "notes", "", "build notes (defaults to upload.build_notes)")
	cmd.Flags().StringVar(&uploadFile, "file", "", "upload this archive instead of packaging")
	cmd.Flags().BoolVar(&uploadSkipBuild, "skip-build", false, "upload the existing build instead of exporting")
	cmd.Flags().BoolVar(&uploadWait, "wait", false, "wait for the service to finish processing the build")
	cmd.Flags().BoolVar(&uploadSave, "save", false, "remember app, preset and notes in the config file")
	cmd.Flags().StringVar(&uploadMaxSize, "max-size", "", "refuse archives larger than this, e.g. 2GB (defaults to upload.max_artifact_size)")

	return cmd
}

func uploadRun(cmd *cobra.Command, args []string) error {
	if globalClient == nil {
		return fmt.Errorf("api client not initialized")
	}

	req, err := uploadRequest(cmd)
	if err != nil {
		return err
	}

	maxSize, err := maxArtifactSize()
	if err != nil {
		return err
	}

	publisher, err := newPublisher()
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	opts := []engine.Option{
		engine.WithEligibilityCheck(globalCfg.Upload.CheckEligibility),
		engine.WithMaxArtifactSize(maxSize),
		engine.WithDashboardURL(globalCfg.DashboardURL()),
	}
	if globalStore != nil {
		opts = append(opts, engine.WithRecorder(globalStore))
	}
	if publisher != nil {
		opts = append(opts, engine.WithPublisher(publisher))
	}
	var builder engine.Builder
	if req.Artifact == nil {
		builder = newPackager()
	}
	orch := engine.New(globalClient, builder, logger, opts...)

	ctx, cancel := signalContext()
	defer cancel()

	var onProgress engine.ProgressFunc
	var bar *progressRenderer
	if !quiet {
		bar = newProgressRenderer(os.Stderr)
		bar.tracker = orch.Progress()
		onProgress = bar.Update
	}
	outcome := orch.Run(ctx, req, onProgress)
	if bar != nil {
		bar.Done()
	}

	out := cmd.OutOrStdout()
	printOutcome(out, outcome)
	if !outcome.Success {
		return outcome.Err
	}

	if uploadSave {
		saveSelections(req)
	}

	wait := uploadWait || (globalCfg.Upload.Wait && !cmd.Flags().Changed("wait"))
	if wait && outcome.BuildID > 0 {
		return waitForBuild(cmd, outcome.BuildID)
	}
	return nil
}

// uploadRequest merges flags with the persisted selections
func uploadRequest(cmd *cobra.Command) (engine.Request, error) {
	req := engine.Request{
		AppID:     uploadAppID,
		AppName:   uploadAppName,
		Notes:     uploadNotes,
		SkipBuild: uploadSkipBuild,
	}
	if req.AppID == 0 {
		req.AppID = globalCfg.Upload.AppID
		if req.AppName == "" {
			req.AppName = globalCfg.Upload.AppName
		}
	}
	if req.AppID <= 0 {
		return req, failure.Errorf(failure.KindValidation, "upload", "no app selected; use --app-id (see glc apps)")
	}
	if !cmd.Flags().Changed("notes") {
		req.Notes = globalCfg.Upload.BuildNotes
	}

	switch {
	case uploadFile != "":
		req.Artifact = &packager.Artifact{Path: uploadFile, Compressed: true}
	case uploadSkipBuild:
	default:
		preset, err := resolvePreset(uploadPreset)
		if err != nil {
			return req, err
		}
		req.Preset = preset
	}
	return req, nil
}

// maxArtifactSize resolves --max-size, falling back to the config limit.
func maxArtifactSize() (int64, error) {
	if strings.TrimSpace(uploadMaxSize) == "" {
		n, err := globalCfg.MaxArtifactBytes()
		if err != nil {
			return 0, failure.New(failure.KindValidation, "upload", err)
		}
		return n, nil
	}
	n, err := parts.ParseSize(uploadMaxSize)
	if err != nil {
		return 0, failure.New(failure.KindValidation, "upload", fmt.Errorf("--max-size: %w", err))
	}
	return n, nil
}

// newPublisher builds the configured completion publishers, or nil.
func newPublisher() (notify.Publisher, error) {
	var fan notify.Fanout
	if u := globalCfg.Notify.WebhookURL; u != "" {
		w, err := notify.NewWebhook(notify.WebhookConfig{
			URL:     u,
			Headers: globalCfg.Notify.WebhookHeaders,
			Retries: 2,
		})
		if err != nil {
			return nil, failure.New(failure.KindValidation, "notify", err)
		}
		fan = append(fan, w)
	}
	if u := globalCfg.Notify.RedisURL; u != "" {
		r, err := notify.NewRedis(notify.RedisConfig{
			URL:     u,
			Channel: globalCfg.Notify.RedisChannel,
			History: globalCfg.Notify.RedisHistory,
			Retries: 2,
		})
		if err != nil {
			return nil, failure.New(failure.KindValidation, "notify", err)
		}
		fan = append(fan, r)
	}
	if len(fan) == 0 {
		return nil, nil
	}
	return fan, nil
}

func printOutcome(w io.Writer, o *engine.Outcome) {
	if !o.Started {
		fmt.Fprintln(w, warningStyle.Render("Upload ignored: ")+engine.ErrBusy.Error())
		return
	}
	if o.Success {
		fmt.Fprintln(w, successStyle.Render("Upload complete"))
	} else {
		fmt.Fprintln(w, errorStyle.Render("Upload failed")+mutedStyle.Render(" during "+string(o.State)))
	}
	field(w, "Run", o.RunID)
	if o.BuildID > 0 {
		field(w, "Build", o.BuildID)
	}
	if o.Artifact != nil {
		field(w, "Archive", o.Artifact.Name())
		field(w, "Size", formatBytes(o.Artifact.TotalSize))
	}
	mode := "single"
	if o.Multipart {
		mode = fmt.Sprintf("multipart (%d parts acknowledged)", len(o.Parts))
	}
	field(w, "Mode", mode)
	field(w, "Duration", o.Duration.Round(time.Millisecond))
	if o.Success && o.BuildID > 0 {
		field(w, "Dashboard", globalCfg.DashboardURL())
	}
	if o.Kind == failure.KindFinalizeAfterUpload {
		fmt.Fprintln(w, mutedStyle.Render("Retry with: glc finalize "+o.RunID))
	}
}

// saveSelections persists the last-used app, preset and notes
func saveSelections(req engine.Request) {
	globalCfg.Upload.AppID = req.AppID
	if req.AppName != "" {
		globalCfg.Upload.AppName = req.AppName
	}
	if strings.TrimSpace(req.Notes) != "" {
		globalCfg.Upload.BuildNotes = req.Notes
	}
	if req.Preset.Name != "" {
		globalCfg.Export.Preset = req.Preset.Name
	}
	path := configSavePath()
	if path == "" {
		return
	}
	if err := globalCfg.Save(path); err != nil {
		logger.Warn("failed to save selections", "path", path, "error", err)
	}
}

// waitForBuild polls until the service finishes processing buildID
func waitForBuild(cmd *cobra.Command, buildID int64) error {
	ctx, cancel := signalContext()
	defer cancel()

	last := ""
	st, err := globalClient.WaitForBuild(ctx, buildID, globalCfg.Upload.PollInterval.Std(), func(s *api.BuildStatus) {
		if s.Status != last && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%d%%)\n", mutedStyle.Render("status:"), s.Status, s.StageProgress)
			last = s.Status
		}
	})
	if err != nil {
		return err
	}
	printBuildStatus(cmd.OutOrStdout(), st)
	switch strings.ToLower(st.Status) {
	case "failed", "error", "rejected", "cancelled", "canceled":
		return failure.Errorf(failure.KindRemote, "build status", "build %d ended as %s: %s", buildID, st.Status, st.ErrorMessage)
	}
	return nil
}
