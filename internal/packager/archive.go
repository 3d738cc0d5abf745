package packager

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/BadgerOps/glc/internal/safety"
)

// Archive formats.
const (
	FormatZip    = "zip"
	FormatTarZst = "tar.zst"
)

// treeStats is the file count and total byte size under a directory.
type treeStats struct {
	Files int
	Bytes int64
}

// scanTree sums regular file sizes under root.
func scanTree(root string) (treeStats, error) {
	var st treeStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += info.Size()
		return nil
	})
	return st, err
}

// writeArchive compresses every file under root into dest. dest must not
// exist. The partially written file is removed on failure.
func writeArchive(ctx context.Context, format, root, dest string) (err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	switch format {
	case FormatZip, "":
		return writeZip(ctx, out, root)
	case FormatTarZst:
		return writeTarZst(ctx, out, root)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
}

// walkFiles calls fn for every regular file under root with its entry
// name, checking ctx between files.
func walkFiles(ctx context.Context, root string, fn func(path, name string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name, err := safety.EntryName(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(path, name, info)
	})
}

func writeZip(ctx context.Context, w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	err := walkFiles(ctx, root, func(path, name string, info fs.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("zip header for %s: %w", name, err)
		}
		header.Name = name
		header.Method = zip.Deflate

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", name, err)
		}
		return copyFile(entry, path)
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing zip: %w", err)
	}
	return nil
}

func writeTarZst(ctx context.Context, w io.Writer, root string) error {
	zstdWriter, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	err = walkFiles(ctx, root, func(path, name string, info fs.FileInfo) error {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Size:     info.Size(),
			Mode:     int64(info.Mode().Perm()),
			ModTime:  info.ModTime(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("tar header for %s: %w", name, err)
		}
		return copyFile(tw, path)
	})
	if err != nil {
		_ = tw.Close()
		_ = zstdWriter.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = zstdWriter.Close()
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compressing %s: %w", path, err)
	}
	return nil
}

// inspectZip reads the central directory of a zip archive.
func inspectZip(path string) (treeStats, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return treeStats{}, err
	}
	defer r.Close()

	var st treeStats
	for _, f := range r.File {
		if _, err := safety.CleanEntryName(f.Name); err != nil {
			return treeStats{}, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		st.Files++
		st.Bytes += int64(f.UncompressedSize64)
	}
	return st, nil
}

// inspectTarZst streams a tar.zst archive to total its entries.
func inspectTarZst(path string) (treeStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return treeStats{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return treeStats{}, err
	}
	defer dec.Close()

	var st treeStats
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return treeStats{}, err
		}
		if _, err := safety.CleanEntryName(hdr.Name); err != nil {
			return treeStats{}, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		st.Files++
		st.Bytes += hdr.Size
	}
}
