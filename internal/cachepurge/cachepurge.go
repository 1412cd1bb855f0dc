// Package cachepurge removes working-directory entries the current
// manifest no longer references.
package cachepurge

import (
	"fmt"

	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/progress"
)

// Purge enumerates the immediate children of workingDir and removes any
// that no entry in m claims, either as a plain file (ResolvedFileName)
// or as an archive's extraction directory (UnzipTo). It runs fully
// synchronously and keeps sweeping past individual failures, collecting
// every error encountered rather than aborting on the first. It returns
// the count of entries removed, for the Reconciliation Loop's tick
// summary.
func Purge(fs fsadapter.FileSystem, sink *enginelog.Sink, rep *progress.Reporter, workingDir string, m manifest.Manifest) (int, []error) {
	entries, err := fs.ReadDir(workingDir)
	if err != nil {
		return 0, []error{fmt.Errorf("reading working directory: %w", err)}
	}

	keep := make(map[string]bool, len(m))
	for _, e := range m {
		keep[e.ResolvedFileName()] = true
		if e.UnzipTo != "" {
			keep[e.UnzipTo] = true
		}
	}

	var errs []error
	purged := 0
	for _, child := range entries {
		name := child.Name()
		if keep[name] {
			continue
		}

		path := workingDir + "/" + name
		var removeErr error
		if child.IsDir() {
			removeErr = fs.RemoveAll(path)
		} else {
			removeErr = fs.Remove(path)
		}

		if removeErr != nil {
			sink.Errorf("purge %s: %v", path, removeErr)
			errs = append(errs, fmt.Errorf("purging %s: %w", path, removeErr))
			continue
		}
		sink.Logf("purged %s", path)
		rep.Purge(path)
		purged++
	}

	return purged, errs
}
