package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/extractor"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/progress"
)

// postProcess runs archive post-processing: extract an archive entry into its
// unzipTo directory, write the catalog file, and delete the archive.
// Entries that are not archives, or archives when unzip is disabled,
// are left untouched. Extraction and catalog errors are returned to the
// caller to log and swallow — the archive is left for the next
// reconciliation pass to retry.
func postProcess(ctx context.Context, fs fsadapter.FileSystem, ext extractor.Extractor, sink *enginelog.Sink, rep *progress.Reporter, workingDir string, entry manifest.Entry, downloadedAt time.Time, disableUnzip bool) error {
	if !entry.IsArchive() || disableUnzip {
		return nil
	}

	archivePath := workingDir + "/" + entry.ResolvedFileName()
	targetDir := workingDir + "/" + entry.UnzipTo

	if err := ext.Extract(ctx, archivePath, targetDir); err != nil {
		return fmt.Errorf("extracting %s: %w", archivePath, err)
	}

	catalog, err := manifest.BuildCatalog(fs, targetDir, downloadedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("building catalog for %s: %w", targetDir, err)
	}

	if err := manifest.WriteCatalog(fs, targetDir, catalog); err != nil {
		return fmt.Errorf("writing catalog for %s: %w", targetDir, err)
	}

	if err := fs.Remove(archivePath); err != nil {
		return fmt.Errorf("removing archive %s: %w", archivePath, err)
	}

	sink.Logf("extracted %s into %s", archivePath, targetDir)
	rep.Extract(targetDir)
	return nil
}
