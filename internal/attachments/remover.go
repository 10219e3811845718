// Package attachments removes on-disk attachment files ahead of message
// deletion so orphaned files are not left behind.
package attachments

import (
	"context"
	"os"

	"github.com/session-foundation/session-desktop-sub001/internal/observability"
)

// Remover deletes attachment files, best effort. A message delete proceeds
// even if some file deletions fail.
type Remover interface {
	DeleteFiles(ctx context.Context, paths []string)
}

// FileRemover removes files from the local attachments directory.
type FileRemover struct {
	log *observability.SchedulerLogger
}

// NewFileRemover returns a Remover backed by the local filesystem.
func NewFileRemover() *FileRemover {
	return &FileRemover{log: observability.NewSchedulerLogger("attachments")}
}

// DeleteFiles removes each path, logging and continuing on failure.
func (r *FileRemover) DeleteFiles(ctx context.Context, paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			r.log.LogError(ctx, "delete attachment file "+p, err)
		}
	}
}
