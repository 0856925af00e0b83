package ingest

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

// Summary counts file outcomes of one tree walk.
type Summary struct {
	Counts   map[Outcome]int
	Errors   int
	Duration time.Duration
}

// Total returns the number of files processed.
func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// IngestTree walks root for dossier files and ingests them on pool. A
// failure on one file never stops the walk; only cancellation does.
func (in *Ingestor) IngestTree(ctx context.Context, pool *workerpool.Pool, root string) (Summary, error) {
	start := time.Now()
	var mu sync.Mutex
	summary := Summary{Counts: make(map[Outcome]int)}

	err := workerpool.Each(ctx, pool, in.walk(ctx, root), func(ctx context.Context, path string) {
		res, err := in.IngestFile(ctx, path)
		if err != nil && ctx.Err() == nil {
			in.log.Error("dossier ingest failed", logger.String("path", path), logger.Error(err))
		}
		mu.Lock()
		summary.Counts[res.Outcome]++
		if err != nil {
			summary.Errors++
		}
		mu.Unlock()
	})

	summary.Duration = time.Since(start)
	in.log.Info("ingest finished",
		logger.Int("created", summary.Counts[Created]),
		logger.Int("duplicate", summary.Counts[Duplicate]),
		logger.Int("unreadable", summary.Counts[Unreadable]),
		logger.Int("rejected", summary.Counts[Rejected]),
		logger.Int("failed", summary.Counts[Failed]),
		logger.Duration("duration", summary.Duration))
	return summary, err
}

// walk yields dossier files under root in lexical order. Unreadable
// directories are logged and skipped.
func (in *Ingestor) walk(ctx context.Context, root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					in.log.Warn("incoming directory not readable", logger.String("path", path), logger.Error(err))
					return filepath.SkipAll
				}
				in.log.Warn("skipping unreadable entry", logger.String("path", path), logger.Error(err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if d.IsDir() || !in.layout.HasExtension(d.Name()) {
				return nil
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}
