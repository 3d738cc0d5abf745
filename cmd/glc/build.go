package main

import (
	"fmt"
	"io"

	"github.com/BadgerOps/glc/internal/packager"
	"github.com/spf13/cobra"
)

var buildPreset string

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Export and compress the project without uploading",
		Long: `Run the Godot export for a preset into Builds/GLC_Upload and compress the
output into Builds/<Project>_upload.zip. Nothing is sent to the service;
glc upload --skip-build uploads the result later.`,
		Example: `  glc build --preset "Linux/X11"
  glc build --preset 0`,
		RunE: buildRun,
	}

	cmd.Flags().StringVar(&buildPreset, "preset", "", "export preset name or index (defaults to export.preset)")

	return cmd
}

// newPackager builds the packager for the configured project
func newPackager() *packager.Packager {
	exporter := &packager.GodotExporter{Binary: globalCfg.Export.GodotBinary, Logger: logger}
	return packager.New(packager.Options{
		ProjectDir:  globalCfg.ProjectDir(),
		BuildsDir:   globalCfg.BuildsDir(),
		ProjectName: globalCfg.SanitizedProjectName(),
		Format:      globalCfg.Export.Format,
	}, exporter, logger)
}

func buildRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	preset, err := resolvePreset(buildPreset)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	artifact, err := newPackager().Package(ctx, preset, func(step string) {
		if !quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("- "+step))
		}
	})
	if err != nil {
		return err
	}

	printArtifact(out, artifact)
	return nil
}

func printArtifact(w io.Writer, a *packager.Artifact) {
	field(w, "Archive", a.Path)
	field(w, "Size", formatBytes(a.TotalSize))
	if a.UncompressedSize > 0 {
		field(w, "Uncompressed", formatBytes(a.UncompressedSize))
		field(w, "Saved", fmt.Sprintf("%.1f%%", a.Ratio()*100))
	}
	if a.FileCount > 0 {
		field(w, "Files", a.FileCount)
	}
}
