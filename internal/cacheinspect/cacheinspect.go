// Package cacheinspect decides which manifest entries are missing from
// the working directory. It is pure with respect to the filesystem: it
// never creates, writes, or deletes anything.
package cacheinspect

import (
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
)

// Missing returns the ordered sub-sequence of m considered absent from
// workingDir. An archive entry (ends in .zip, UnzipTo set, unzip enabled)
// is present iff workingDir/UnzipTo exists, is a directory, is
// non-empty, and contains info.json; info.json's contents are not
// validated beyond existence. A plain entry is present iff a regular
// file exists at workingDir/FileName.
//
// disableUnzip gates both extraction and the archive-presence check:
// when true, a .zip entry with UnzipTo set is considered present iff
// the zip file itself exists — the archive is never extracted, so
// info.json is never consulted.
func Missing(fs fsadapter.FileSystem, workingDir string, m manifest.Manifest, disableUnzip bool) manifest.Manifest {
	var missing manifest.Manifest
	for _, entry := range m {
		if !present(fs, workingDir, entry, disableUnzip) {
			missing = append(missing, entry)
		}
	}
	return missing
}

func present(fs fsadapter.FileSystem, workingDir string, entry manifest.Entry, disableUnzip bool) bool {
	if entry.IsArchive() && !disableUnzip {
		return archivePresent(fs, workingDir, entry)
	}
	return plainPresent(fs, workingDir, entry)
}

func archivePresent(fs fsadapter.FileSystem, workingDir string, entry manifest.Entry) bool {
	dir := workingDir + "/" + entry.UnzipTo

	info, err := fs.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	entries, err := fs.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return false
	}

	for _, e := range entries {
		if e.Name() == manifest.CatalogFileName {
			return true
		}
	}
	return false
}

func plainPresent(fs fsadapter.FileSystem, workingDir string, entry manifest.Entry) bool {
	path := workingDir + "/" + entry.ResolvedFileName()
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
