package packager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/BadgerOps/glc/internal/failure"
)

type fakeExporter struct {
	files map[string]string // relative to the output's directory
	err   error
	calls int
	got   ExportRequest
}

func (f *fakeExporter) Export(ctx context.Context, req ExportRequest) error {
	f.calls++
	f.got = req
	if f.err != nil {
		return f.err
	}
	dir := filepath.Dir(req.OutputPath)
	for name, content := range f.files {
		if name == "$output" {
			name = filepath.Base(req.OutputPath)
		}
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newTestPackager(t *testing.T, exp Exporter, format string) *Packager {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		ProjectDir:  dir,
		BuildsDir:   filepath.Join(dir, "Builds"),
		ProjectName: "Space_Trucker",
		Format:      format,
	}, exp, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var linuxPreset = Preset{Index: 0, Name: "Linux", Platform: "Linux"}

func TestPackageZip(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{
		"$output":           strings.Repeat("x", 4000),
		"Space_Trucker.pck": strings.Repeat("game data ", 100),
	}}
	p := newTestPackager(t, exp, FormatZip)

	var steps []string
	art, err := p.Package(context.Background(), linuxPreset, func(s string) { steps = append(steps, s) })
	if err != nil {
		t.Fatalf("Package() error: %v", err)
	}

	if exp.got.Preset.Name != "Linux" || exp.got.OutputPath != filepath.Join(p.ScratchDir(), "Space_Trucker") {
		t.Errorf("export request = %+v", exp.got)
	}
	if strings.Join(steps, ",") != "export,compress" {
		t.Errorf("steps = %v", steps)
	}
	if art.Path != p.ArchivePath() || filepath.Base(art.Path) != "Space_Trucker_upload.zip" {
		t.Errorf("artifact path = %q", art.Path)
	}
	if art.UncompressedSize != 5000 || art.FileCount != 2 {
		t.Errorf("uncompressed = %d files = %d, want 5000 and 2", art.UncompressedSize, art.FileCount)
	}
	if !art.Compressed || art.TotalSize <= 0 || art.TotalSize >= art.UncompressedSize {
		t.Errorf("artifact = %+v", art)
	}

	r, err := zip.OpenReader(art.Path)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer r.Close()
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	if !names["Space_Trucker"] || !names["Space_Trucker.pck"] {
		t.Errorf("archive entries = %v", names)
	}
}

func TestPackageReplacesStaleArchiveAndScratch(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{"$output": "new build"}}
	p := newTestPackager(t, exp, FormatZip)

	if err := os.MkdirAll(p.ScratchDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.ScratchDir(), "leftover.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.ArchivePath(), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := p.Package(context.Background(), linuxPreset, nil)
	if err != nil {
		t.Fatalf("Package() error: %v", err)
	}
	if art.FileCount != 1 || art.UncompressedSize != int64(len("new build")) {
		t.Errorf("stale scratch content was included: %+v", art)
	}
	if _, err := zip.OpenReader(art.Path); err != nil {
		t.Errorf("archive was not replaced: %v", err)
	}
}

func TestPackageExportFailed(t *testing.T) {
	exp := &fakeExporter{err: &ExportError{ExitCode: 1, Output: "ERROR: preset not found"}}
	p := newTestPackager(t, exp, FormatZip)

	if err := os.MkdirAll(filepath.Dir(p.ArchivePath()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.ArchivePath(), []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := p.Package(context.Background(), linuxPreset, nil)
	if !errors.Is(err, failure.ErrExportFailed) {
		t.Fatalf("Package() = %v, want export failed", err)
	}
	var ee *ExportError
	if !errors.As(err, &ee) || !strings.Contains(ee.Output, "preset not found") {
		t.Errorf("export output not carried: %v", err)
	}
	if _, err := os.Stat(p.ArchivePath()); err != nil {
		t.Errorf("previous archive should survive a failed export: %v", err)
	}
}

func TestPackageOutputMissing(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{"unrelated.log": "x"}}
	p := newTestPackager(t, exp, FormatZip)

	_, err := p.Package(context.Background(), linuxPreset, nil)
	if !errors.Is(err, failure.ErrExportOutputMissing) {
		t.Fatalf("Package() = %v, want export output missing", err)
	}
}

func TestPackageMacBundle(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{
		"Space_Trucker.app/Contents/MacOS/Space_Trucker": "binary",
		"Space_Trucker.app/Contents/Info.plist":          "<plist/>",
	}}
	p := newTestPackager(t, exp, FormatZip)

	art, err := p.Package(context.Background(), Preset{Name: "macOS", Platform: "macOS"}, nil)
	if err != nil {
		t.Fatalf("Package() error: %v", err)
	}
	if art.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", art.FileCount)
	}
}

func TestPackageRequiresPreset(t *testing.T) {
	p := newTestPackager(t, &fakeExporter{}, FormatZip)
	if _, err := p.Package(context.Background(), Preset{}, nil); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("Package() = %v, want validation error", err)
	}
}

func TestPackageCancelled(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{"$output": "x"}}
	p := newTestPackager(t, exp, FormatZip)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Package(ctx, linuxPreset, nil)
	if !errors.Is(err, failure.ErrCancelled) {
		t.Fatalf("Package() = %v, want cancelled", err)
	}
	if _, err := os.Stat(p.ArchivePath()); !os.IsNotExist(err) {
		t.Errorf("no archive should be written after cancel, stat err = %v", err)
	}
}

func TestCompressTarZst(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{
		"$output":    strings.Repeat("a", 1000),
		"data/x.bin": strings.Repeat("b", 500),
	}}
	p := newTestPackager(t, exp, FormatTarZst)

	art, err := p.Package(context.Background(), linuxPreset, nil)
	if err != nil {
		t.Fatalf("Package() error: %v", err)
	}
	if !strings.HasSuffix(art.Path, "_upload.tar.zst") {
		t.Errorf("Path = %q", art.Path)
	}

	stats, err := inspectTarZst(art.Path)
	if err != nil {
		t.Fatalf("inspectTarZst() error: %v", err)
	}
	if stats.Files != 2 || stats.Bytes != 1500 {
		t.Errorf("stats = %+v, want 2 files 1500 bytes", stats)
	}
}

func TestCompressWithoutScratch(t *testing.T) {
	p := newTestPackager(t, nil, FormatZip)
	if _, err := p.Compress(context.Background()); !errors.Is(err, failure.ErrCompressionFailed) {
		t.Fatalf("Compress() = %v, want compression failed", err)
	}
}

func TestExisting(t *testing.T) {
	exp := &fakeExporter{files: map[string]string{"$output": strings.Repeat("z", 2048)}}
	p := newTestPackager(t, exp, FormatZip)

	art, err := p.Existing()
	if err != nil || art != nil {
		t.Fatalf("Existing() on empty project = %+v, %v", art, err)
	}

	// Scratch only.
	if err := os.MkdirAll(p.ScratchDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.ScratchDir(), "game"), bytes.Repeat([]byte("q"), 300), 0o644); err != nil {
		t.Fatal(err)
	}
	art, err = p.Existing()
	if err != nil {
		t.Fatalf("Existing() error: %v", err)
	}
	if art == nil || art.Compressed || art.TotalSize != 300 || art.UncompressedSize != 300 || art.Path != p.ScratchDir() {
		t.Fatalf("Existing() scratch = %+v", art)
	}

	// Archive wins once present.
	if _, err := p.Package(context.Background(), linuxPreset, nil); err != nil {
		t.Fatalf("Package() error: %v", err)
	}
	art, err = p.Existing()
	if err != nil {
		t.Fatalf("Existing() error: %v", err)
	}
	if art == nil || !art.Compressed || art.UncompressedSize != 2048 || art.FileCount != 1 || art.Path != p.ArchivePath() {
		t.Fatalf("Existing() archive = %+v", art)
	}
}

func TestExportErrorMessage(t *testing.T) {
	e := &ExportError{ExitCode: 2}
	if e.Error() != "export failed with exit code 2" {
		t.Errorf("Error() = %q", e.Error())
	}
	e.Output = "  boom\n"
	if e.Error() != "export failed with exit code 2: boom" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestPackageRejectsPathsOutsideBuilds(t *testing.T) {
	dir := t.TempDir()
	builds := filepath.Join(dir, "Builds")
	outside := filepath.Join(dir, "escape_upload.zip")
	if err := os.WriteFile(outside, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	exp := &fakeExporter{files: map[string]string{"$output": "x"}}
	p := New(Options{
		ProjectDir:  dir,
		BuildsDir:   builds,
		ProjectName: "../escape",
	}, exp, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := p.Package(context.Background(), linuxPreset, nil); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("Package() = %v, want validation error", err)
	}
	if _, err := p.Compress(context.Background()); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("Compress() = %v, want validation error", err)
	}
	if exp.got.Preset.Name != "" {
		t.Error("exporter ran for an escaping layout")
	}
	if data, err := os.ReadFile(outside); err != nil || string(data) != "keep" {
		t.Errorf("file outside the builds dir was touched: %q, %v", data, err)
	}
}
