// Package packager turns a project into a single compressed artifact ready
// for upload: it resets a scratch directory, runs the export step, measures
// the output and writes the archive.
package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/parts"
	"github.com/BadgerOps/glc/internal/safety"
)

// ScratchDirName is the export output directory under the builds directory.
const ScratchDirName = "GLC_Upload"

// Artifact is a packaged build on disk.
type Artifact struct {
	Path             string
	TotalSize        int64
	UncompressedSize int64 // 0 when unknown
	FileCount        int
	CreatedAt        time.Time
	Compressed       bool
}

// Name returns the artifact's file name.
func (a *Artifact) Name() string { return filepath.Base(a.Path) }

// Ratio returns the fraction of space saved by compression, or 0.
func (a *Artifact) Ratio() float64 {
	if !a.Compressed || a.UncompressedSize <= 0 {
		return 0
	}
	return 1 - float64(a.TotalSize)/float64(a.UncompressedSize)
}

// Options locates the project and its outputs.
type Options struct {
	ProjectDir  string
	BuildsDir   string
	ProjectName string // already sanitized
	Format      string // FormatZip or FormatTarZst
}

// StepFunc reports packaging steps: "export", "compress".
type StepFunc func(step string)

// Packager produces artifacts for one project.
type Packager struct {
	opts     Options
	exporter Exporter
	logger   *slog.Logger
}

// New creates a Packager.
func New(opts Options, exporter Exporter, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Format == "" {
		opts.Format = FormatZip
	}
	if opts.ProjectName == "" {
		opts.ProjectName = "GodotProject"
	}
	if opts.BuildsDir == "" {
		opts.BuildsDir = filepath.Join(opts.ProjectDir, "Builds")
	}
	return &Packager{opts: opts, exporter: exporter, logger: logger}
}

// ScratchDir is where the export step writes.
func (p *Packager) ScratchDir() string {
	return filepath.Join(p.opts.BuildsDir, ScratchDirName)
}

// ArchivePath is the canonical archive location.
func (p *Packager) ArchivePath() string {
	ext := ".zip"
	if p.opts.Format == FormatTarZst {
		ext = ".tar.zst"
	}
	return filepath.Join(p.opts.BuildsDir, p.opts.ProjectName+"_upload"+ext)
}

// checkLayout refuses to touch a scratch dir or archive that would land
// outside the builds directory.
func (p *Packager) checkLayout(op string) error {
	for _, path := range []string{p.ScratchDir(), p.ArchivePath()} {
		if _, err := safety.EnsureUnderRoot(p.opts.BuildsDir, path); err != nil {
			return failure.New(failure.KindValidation, op, err)
		}
	}
	return nil
}

// Package exports the project with preset and compresses the result.
// The scratch directory is emptied first; the previous archive is deleted
// only once the export has succeeded.
func (p *Packager) Package(ctx context.Context, preset Preset, onStep StepFunc) (*Artifact, error) {
	if p.exporter == nil {
		return nil, failure.Errorf(failure.KindValidation, "package", "no exporter configured")
	}
	if preset.Name == "" {
		return nil, failure.Errorf(failure.KindValidation, "package", "export preset is required")
	}

	if err := p.checkLayout("package"); err != nil {
		return nil, err
	}

	scratch := p.ScratchDir()
	if err := os.RemoveAll(scratch); err != nil {
		return nil, failure.New(failure.KindExportFailed, "reset scratch dir", err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, failure.New(failure.KindExportFailed, "create scratch dir", err)
	}

	if onStep != nil {
		onStep("export")
	}
	output := filepath.Join(scratch, p.opts.ProjectName+PlatformExtension(preset.Platform))
	err := p.exporter.Export(ctx, ExportRequest{ProjectDir: p.opts.ProjectDir, Preset: preset, OutputPath: output})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.New(failure.KindCancelled, "export", ctxErr)
		}
		return nil, failure.New(failure.KindExportFailed, "export", err)
	}
	if _, err := locateOutput(output); err != nil {
		return nil, failure.New(failure.KindExportOutputMissing, "export", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.KindCancelled, "package", err)
	}
	if onStep != nil {
		onStep("compress")
	}
	return p.Compress(ctx)
}

// locateOutput finds the export output, allowing for macOS .app bundles
// written without the extension the caller asked for.
func locateOutput(output string) (string, error) {
	if _, err := os.Stat(output); err == nil {
		return output, nil
	}
	bundle := strings.TrimSuffix(output, ".app") + ".app"
	if info, err := os.Stat(bundle); err == nil && info.IsDir() {
		return bundle, nil
	}
	return "", fmt.Errorf("export completed but %s was not created", output)
}

// Compress archives the current scratch directory. The uncompressed size
// is measured before compression starts.
func (p *Packager) Compress(ctx context.Context) (*Artifact, error) {
	const op = "compress"
	if err := p.checkLayout(op); err != nil {
		return nil, err
	}
	scratch := p.ScratchDir()
	info, err := os.Stat(scratch)
	if err != nil || !info.IsDir() {
		return nil, failure.Errorf(failure.KindCompressionFailed, op, "build directory %s not found", scratch)
	}

	stats, err := scanTree(scratch)
	if err != nil {
		return nil, failure.New(failure.KindCompressionFailed, op, err)
	}
	if stats.Files == 0 {
		return nil, failure.Errorf(failure.KindExportOutputMissing, op, "build directory %s is empty", scratch)
	}

	archive := p.ArchivePath()
	if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, failure.New(failure.KindCompressionFailed, op, fmt.Errorf("removing previous archive: %w", err))
	}

	p.logger.Info("compressing build", "files", stats.Files, "size", parts.Format(stats.Bytes), "archive", archive)
	start := time.Now()
	if err := writeArchive(ctx, p.opts.Format, scratch, archive); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.New(failure.KindCancelled, op, ctxErr)
		}
		return nil, failure.New(failure.KindCompressionFailed, op, err)
	}

	ainfo, err := os.Stat(archive)
	if err != nil {
		return nil, failure.New(failure.KindCompressionFailed, op, err)
	}
	artifact := &Artifact{
		Path:             archive,
		TotalSize:        ainfo.Size(),
		UncompressedSize: stats.Bytes,
		FileCount:        stats.Files,
		CreatedAt:        ainfo.ModTime(),
		Compressed:       true,
	}
	p.logger.Info("compression complete",
		"size", parts.Format(artifact.TotalSize),
		"saved", fmt.Sprintf("%.1f%%", artifact.Ratio()*100),
		"duration", time.Since(start).Round(time.Millisecond))
	return artifact, nil
}

// Existing reports the build already on disk: the canonical archive if
// present, otherwise the uncompressed scratch directory. It returns nil
// when neither exists.
func (p *Packager) Existing() (*Artifact, error) {
	archive := p.ArchivePath()
	if info, err := os.Stat(archive); err == nil && info.Mode().IsRegular() {
		a := &Artifact{
			Path:       archive,
			TotalSize:  info.Size(),
			CreatedAt:  info.ModTime(),
			Compressed: true,
		}
		var stats treeStats
		var ierr error
		if p.opts.Format == FormatTarZst {
			stats, ierr = inspectTarZst(archive)
		} else {
			stats, ierr = inspectZip(archive)
		}
		if ierr != nil {
			p.logger.Warn("could not read archive contents", "archive", archive, "error", ierr)
		} else {
			a.UncompressedSize = stats.Bytes
			a.FileCount = stats.Files
		}
		return a, nil
	}

	scratch := p.ScratchDir()
	info, err := os.Stat(scratch)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}
	stats, err := scanTree(scratch)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", scratch, err)
	}
	if stats.Files == 0 {
		return nil, nil
	}
	return &Artifact{
		Path:             scratch,
		TotalSize:        stats.Bytes,
		UncompressedSize: stats.Bytes,
		FileCount:        stats.Files,
		CreatedAt:        info.ModTime(),
		Compressed:       false,
	}, nil
}
