// Package extractor abstracts "extract an archive file into a target
// directory" so the Download Engine's post-processing step never depends
// on a concrete archive format.
package extractor

import "context"

// Extractor extracts archivePath's contents into targetDir, creating
// directories as needed.
type Extractor interface {
	Extract(ctx context.Context, archivePath, targetDir string) error
}
