package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jacobfgrant/reconciler/internal/fsadapter"
)

// CatalogFileName is the marker file written inside every extracted
// archive directory.
const CatalogFileName = "info.json"

// CatalogFile records the outcome of an archive extraction.
type CatalogFile struct {
	RequiredFiles []string `json:"requiredFiles"`
	DownloadedAt  int64    `json:"downloadedAt"`
}

// BuildCatalog lists the immediate non-dotfile entries of dir, in
// filesystem-reported order, and stamps downloadedAt (milliseconds since
// epoch).
func BuildCatalog(fs fsadapter.FileSystem, dir string, downloadedAtMillis int64) (CatalogFile, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return CatalogFile{}, fmt.Errorf("reading extracted directory: %w", err)
	}

	var required []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		required = append(required, name)
	}

	return CatalogFile{RequiredFiles: required, DownloadedAt: downloadedAtMillis}, nil
}

// WriteCatalog writes a catalog file into dir as info.json, streaming it
// straight to its final path through fs.Create; it does not write a
// temporary file or rename, so the write is not atomic.
func WriteCatalog(fs fsadapter.FileSystem, dir string, catalog CatalogFile) error {
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing catalog: %w", err)
	}

	path := dir + "/" + CatalogFileName
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return w.Close()
}

// ReadCatalog reads and parses the info.json within dir. Any error —
// missing file or malformed JSON — is treated as "the catalog is absent":
// requiredFiles parsing errors count as missing, not as a hard failure.
func ReadCatalog(fs fsadapter.FileSystem, dir string) (CatalogFile, error) {
	path := dir + "/" + CatalogFileName
	info, err := fs.Stat(path)
	if err != nil || info.IsDir() {
		return CatalogFile{}, fmt.Errorf("catalog not found at %s", path)
	}

	// fsadapter.FileSystem has no direct "read file" primitive (the
	// engine only ever streams writes); MemFileSystem and OSFileSystem
	// both satisfy readerFS, which is all reading a catalog back needs.
	rf, ok := fs.(readerFS)
	if !ok {
		return CatalogFile{}, fmt.Errorf("filesystem does not support reading files")
	}
	data, ok := rf.ReadFile(path)
	if !ok {
		return CatalogFile{}, fmt.Errorf("catalog not found at %s", path)
	}

	var c CatalogFile
	if err := json.Unmarshal(data, &c); err != nil {
		return CatalogFile{}, fmt.Errorf("parsing catalog: %w", err)
	}
	sort.Strings(c.RequiredFiles)
	return c, nil
}

// readerFS is implemented by filesystem adapters that can read back file
// contents (MemFileSystem and OSFileSystem's ReadFile helper).
type readerFS interface {
	ReadFile(path string) ([]byte, bool)
}
