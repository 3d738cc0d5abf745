package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ExportRequest tells an Exporter what to produce and where.
type ExportRequest struct {
	ProjectDir string
	Preset     Preset
	OutputPath string
}

// Exporter runs the external export step that turns a project into a
// build on disk.
type Exporter interface {
	Export(ctx context.Context, req ExportRequest) error
}

// ExportError is a non-zero exit from the export step.
type ExportError struct {
	ExitCode int
	Output   string
}

func (e *ExportError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 2000 {
		out = "..." + out[len(out)-2000:]
	}
	if out == "" {
		return fmt.Sprintf("export failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("export failed with exit code %d: %s", e.ExitCode, out)
}

// GodotExporter runs a headless Godot release export.
type GodotExporter struct {
	Binary string
	Logger *slog.Logger
}

// Export runs godot --headless --path <project> --export-release <preset> <out>.
// The process is killed if ctx is cancelled.
func (g *GodotExporter) Export(ctx context.Context, req ExportRequest) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	binary := g.Binary
	if binary == "" {
		binary = "godot"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return &ExportError{ExitCode: -1, Output: fmt.Sprintf("export tool %q not found: %v", binary, err)}
	}

	args := []string{
		"--headless",
		"--path", req.ProjectDir,
		"--export-release", req.Preset.Name, req.OutputPath,
	}
	logger.Info("running export", "binary", path, "preset", req.Preset.Name, "output", req.OutputPath)

	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		logger.Warn("export failed", "exit_code", code, "output", string(output))
		return &ExportError{ExitCode: code, Output: string(output)}
	}

	logger.Debug("export completed", "output", string(output))
	return nil
}
