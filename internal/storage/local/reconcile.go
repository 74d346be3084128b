package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"go.uber.org/zap"
)

// ReconcileReport summarizes an index rebuild
type ReconcileReport struct {
	Documents int
	Added     int
	Updated   int
	Dropped   int
}

// Changed reports whether the index was rewritten
func (r ReconcileReport) Changed() bool {
	return r.Added+r.Updated+r.Dropped > 0
}

// Reconcile makes the index agree with the documents on disk. Documents
// missing from the index are added, entries whose document is gone are
// dropped and stale names are refreshed. An unreadable index is rebuilt.
func (b *Backend) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	names, err := b.listDocuments(ctx)
	if err != nil {
		return report, b.wrap("reconcile", "", err)
	}

	docs := make(map[string]story.IndexEntry, len(names))
	for _, name := range names {
		fileID := strings.TrimSuffix(strings.TrimPrefix(name, documentPrefix), ".json")
		if !story.ValidID(fileID) {
			continue
		}
		s, err := b.Get(ctx, fileID)
		if err != nil {
			b.logger.Warn("Skipping unreadable session document",
				zap.String("file", filepath.Join(b.root, name)),
				zap.Error(err),
			)
			continue
		}
		docs[fileID] = s.Entry(fileID)
	}
	report.Documents = len(docs)

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex()
	if err != nil {
		b.logger.Warn("Session index unreadable, rebuilding", zap.Error(err))
		entries = nil
		report.Dropped++
	}

	seen := make(map[string]bool, len(entries))
	next := make([]story.IndexEntry, 0, len(docs))
	for _, e := range entries {
		want, ok := docs[e.FileID]
		if !ok || seen[e.FileID] {
			report.Dropped++
			continue
		}
		seen[e.FileID] = true
		if want != e {
			report.Updated++
		}
		next = append(next, want)
	}
	for fileID, e := range docs {
		if !seen[fileID] {
			report.Added++
			next = append(next, e)
		}
	}

	if !report.Changed() {
		if _, statErr := os.Stat(b.indexPath()); statErr == nil {
			return report, nil
		}
	}
	storage.SortEntries(next)
	if err := b.writeIndex(next); err != nil {
		return report, b.wrap("reconcile", "", err)
	}
	return report, nil
}
