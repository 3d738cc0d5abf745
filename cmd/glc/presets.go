package main

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/packager"
	"github.com/spf13/cobra"
)

func newPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the project's export presets",
		Long: `List the export presets defined in the project's export_presets.cfg.
Select one with glc upload --preset by name or index.`,
		Example: `  glc presets
  glc presets --project ../my-game`,
		RunE: presetsRun,
	}

	return cmd
}

func presetsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	presets, err := packager.LoadPresets(globalCfg.PresetsPath())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(presets) == 0 {
		fmt.Fprintf(out, "No export presets found in %s\n", globalCfg.PresetsPath())
		return nil
	}

	fmt.Fprintf(out, "%-6s %-28s %-20s %s\n", "Index", "Name", "Platform", "Export Path")
	fmt.Fprintln(out, strings.Repeat("-", 76))
	for _, p := range presets {
		marker := ""
		if strings.EqualFold(p.Name, globalCfg.Export.Preset) {
			marker = " *"
		}
		fmt.Fprintf(out, "%-6d %-28s %-20s %s%s\n", p.Index, truncate(p.Name, 28), p.Platform, p.ExportPath, marker)
	}

	return nil
}

// resolvePreset picks the export preset for selector (or the configured
// default). Without a presets file the selector is used as the name.
func resolvePreset(selector string) (packager.Preset, error) {
	if strings.TrimSpace(selector) == "" {
		selector = globalCfg.Export.Preset
	}
	if strings.TrimSpace(selector) == "" {
		return packager.Preset{}, failure.Errorf(failure.KindValidation, "preset", "no export preset selected; use --preset (see glc presets)")
	}

	presets, err := packager.LoadPresets(globalCfg.PresetsPath())
	if err != nil {
		return packager.Preset{}, failure.New(failure.KindValidation, "preset", err)
	}
	if len(presets) == 0 {
		return packager.Preset{Name: selector}, nil
	}
	p, err := packager.FindPreset(presets, selector)
	if err != nil {
		return packager.Preset{}, failure.New(failure.KindValidation, "preset", err)
	}
	return p, nil
}
