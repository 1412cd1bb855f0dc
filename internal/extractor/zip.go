package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/jacobfgrant/reconciler/internal/fsadapter"
)

// fileReader is implemented by filesystem adapters that can read back
// file contents (both OSFileSystem and MemFileSystem satisfy it).
type fileReader interface {
	ReadFile(path string) ([]byte, bool)
}

// ZipExtractor implements Extractor on the standard library's
// archive/zip, the same approach the reference downloader in this domain
// uses for bundle extraction.
type ZipExtractor struct {
	FS fsadapter.FileSystem
}

// NewZipExtractor creates a ZipExtractor that reads archives and writes
// extracted entries through fs.
func NewZipExtractor(fs fsadapter.FileSystem) *ZipExtractor {
	return &ZipExtractor{FS: fs}
}

func (z *ZipExtractor) Extract(ctx context.Context, archivePath, targetDir string) error {
	reader, ok := z.FS.(fileReader)
	if !ok {
		return fmt.Errorf("extractor: filesystem does not support reading archives")
	}

	data, ok := reader.ReadFile(archivePath)
	if !ok {
		return fmt.Errorf("extractor: archive not found: %s", archivePath)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", archivePath, err)
	}

	if err := z.FS.MkdirAll(targetDir); err != nil {
		return fmt.Errorf("creating target dir %s: %w", targetDir, err)
	}

	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "." || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("extractor: unsafe entry path %q in %s", f.Name, archivePath)
		}

		dest := targetDir + "/" + name
		if f.FileInfo().IsDir() {
			if err := z.FS.MkdirAll(dest); err != nil {
				return fmt.Errorf("creating %s: %w", dest, err)
			}
			continue
		}

		if dir := path.Dir(dest); dir != "." {
			if err := z.FS.MkdirAll(dir); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
		}

		if err := extractOne(z.FS, f, dest); err != nil {
			return err
		}
	}

	return nil
}

func extractOne(fs fsadapter.FileSystem, f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("reading entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := fs.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return w.Close()
}
