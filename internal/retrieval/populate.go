package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sourcegraph/conc/pool"

	"github.com/aetherspritee/msirs/internal/index"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// FileError records an image that could not be added
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Report summarises a Populate run
type Report struct {
	Added   int           `json:"added"`
	Skipped []FileError   `json:"skipped"`
	Took    time.Duration `json:"took"`
}

// Failed reports whether any file was skipped
func (r *Report) Failed() bool {
	return len(r.Skipped) > 0
}

// Populate adds every file below dir whose extension is in formats. Files
// that fail are recorded in the report and do not stop the run. The index
// snapshot is persisted once at the end.
func (p *Pipeline) Populate(ctx context.Context, dir string, formats []string, workers int) (*Report, error) {
	start := time.Now()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && AllowedFormat(path, formats) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	if workers <= 0 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		report = Report{Skipped: []FileError{}}
	)
	wp := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for _, path := range files {
		path := path
		wp.Go(func(ctx context.Context) error {
			rec, err := p.addFile(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("Skipping %s: %v", path, err)
				report.Skipped = append(report.Skipped, FileError{Path: path, Err: err.Error()})
				return nil
			}
			report.Added++
			log.Printf("added %s as %s", path, rec.ID)
			return nil
		})
	}
	_ = wp.Wait()
	report.Took = time.Since(start)

	if err := ctx.Err(); err != nil {
		return &report, err
	}
	if report.Added > 0 {
		if err := p.Persist(ctx); err != nil {
			return &report, err
		}
	}
	log.Printf("populated index from %s: %d added, %d skipped, %v",
		dir, report.Added, len(report.Skipped), report.Took.Round(time.Millisecond))
	return &report, nil
}

func (p *Pipeline) addFile(ctx context.Context, path string) (index.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return index.Record{}, err
	}
	return p.Add(ctx, path, data)
}

// StagedMatch is one entry of the staged metadata file
type StagedMatch struct {
	Rank     int            `json:"rank"`
	ID       string         `json:"id"`
	File     string         `json:"file"`
	Distance float64        `json:"distance"`
	Metadata index.Metadata `json:"metadata"`
}

// Staged is written as metadata.json next to the staged images
type Staged struct {
	Query   string        `json:"query"`
	Matches []StagedMatch `json:"matches"`
}

// ErrUnsafeStageDir is returned when Stage is pointed at the working
// directory, the home directory or a filesystem root.
var ErrUnsafeStageDir = errors.New("refusing to stage into directory")

// Stage writes a query and its matches to dir for a viewer to pick up. The
// entries of dir are removed first; dir itself is kept. The query keeps its
// original bytes as query.<ext>; matches are re-encoded as
// retrieval_<rank>.png with ranks counting from 1.
func (p *Pipeline) Stage(ctx context.Context, dir, queryName string, queryData []byte, res *Result) (*Staged, error) {
	if err := clearStage(dir); err != nil {
		return nil, err
	}

	ext := filepath.Ext(queryName)
	if ext == "" {
		format, err := tile.DetectFormat(queryData)
		if err != nil {
			return nil, err
		}
		ext = format.Extension()
	}
	staged := &Staged{Query: "query" + ext, Matches: []StagedMatch{}}
	if err := os.WriteFile(filepath.Join(dir, staged.Query), queryData, 0o644); err != nil {
		return nil, err
	}

	for i, m := range res.Matches {
		data, err := p.store.Get(ctx, m.Record.Metadata.StoredKey)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch match %s: %w", m.Record.ID, err)
		}
		img, _, err := p.processor.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode match %s: %w", m.Record.ID, err)
		}
		rank := i + 1
		name := fmt.Sprintf("retrieval_%d.png", rank)
		if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
		staged.Matches = append(staged.Matches, StagedMatch{
			Rank:     rank,
			ID:       m.Record.ID,
			File:     name,
			Distance: m.Distance,
			Metadata: m.Record.Metadata,
		})
	}

	meta, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), meta, 0o644); err != nil {
		return nil, err
	}
	return staged, nil
}

// clearStage empties dir, creating it when missing
func clearStage(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) == abs {
		return fmt.Errorf("%w: %s", ErrUnsafeStageDir, dir)
	}
	if wd, err := os.Getwd(); err == nil && abs == wd {
		return fmt.Errorf("%w: %s", ErrUnsafeStageDir, dir)
	}
	if home, err := os.UserHomeDir(); err == nil && abs == filepath.Clean(home) {
		return fmt.Errorf("%w: %s", ErrUnsafeStageDir, dir)
	}

	entries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(abs, 0o755)
	}
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(abs, e.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}
	return nil
}
