// Package retrieval indexes images by descriptor and answers similarity
// queries against that index.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/descriptor"
	"github.com/aetherspritee/msirs/internal/index"
	"github.com/aetherspritee/msirs/internal/storage"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// Options configures a Pipeline
type Options struct {
	TopK        int
	IndexKey    string
	ImagePrefix string
}

// Pipeline ties descriptor extraction, the vector index and image storage
// together.
type Pipeline struct {
	describer  descriptor.Describer
	classifier descriptor.Classifier
	index      *index.Memory
	store      storage.Store
	processor  *tile.Processor
	catalog    *catalog.Catalog
	opts       Options
}

// Result is the answer to a similarity query
type Result struct {
	Matches []index.Match `json:"matches"`
	Took    time.Duration `json:"took"`
}

// New creates a pipeline. classifier may be nil, in which case added images
// carry no category.
func New(describer descriptor.Describer, classifier descriptor.Classifier, idx *index.Memory,
	store storage.Store, processor *tile.Processor, cat *catalog.Catalog, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = 8
	}
	if opts.IndexKey == "" {
		opts.IndexKey = "index/index.json"
	}
	if opts.ImagePrefix == "" {
		opts.ImagePrefix = "images"
	}
	return &Pipeline{
		describer:  describer,
		classifier: classifier,
		index:      idx,
		store:      store,
		processor:  processor,
		catalog:    cat,
		opts:       opts,
	}
}

// Open loads the persisted index snapshot, if any
func (p *Pipeline) Open(ctx context.Context) error {
	data, err := p.store.Get(ctx, p.opts.IndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index snapshot: %w", err)
	}
	if err := p.index.Load(bytes.NewReader(data)); err != nil {
		return err
	}
	log.Printf("loaded index snapshot %s: %d records", p.opts.IndexKey, p.index.Len())
	return nil
}

// Persist writes the index snapshot to the store
func (p *Pipeline) Persist(ctx context.Context) error {
	var buf bytes.Buffer
	if err := p.index.Save(&buf); err != nil {
		return fmt.Errorf("failed to encode index snapshot: %w", err)
	}
	return p.store.Put(ctx, p.opts.IndexKey, buf.Bytes(), "application/json")
}

// Query returns the k records closest to img. k <= 0 uses the configured default.
func (p *Pipeline) Query(ctx context.Context, img *tile.Raster, k int) (*Result, error) {
	if k <= 0 {
		k = p.opts.TopK
	}
	start := time.Now()

	vec, err := p.describer.Describe(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to compute descriptor: %w", err)
	}
	matches, err := p.index.Search(toFloat64(vec), k)
	if err != nil {
		return nil, err
	}
	return &Result{Matches: matches, Took: time.Since(start)}, nil
}

// Add decodes data, stores a copy, computes its descriptor and indexes it.
// The snapshot is not persisted; call Persist afterwards.
func (p *Pipeline) Add(ctx context.Context, name string, data []byte) (index.Record, error) {
	img, format, err := p.processor.Decode(data)
	if err != nil {
		return index.Record{}, fmt.Errorf("%s: %w", name, err)
	}
	r := tile.FromImage(img)

	vec, err := p.describer.Describe(ctx, r)
	if err != nil {
		return index.Record{}, fmt.Errorf("%s: failed to compute descriptor: %w", name, err)
	}

	var category string
	if p.classifier != nil {
		labels, err := p.classifier.Classify(ctx, []*tile.Raster{r})
		if err != nil {
			return index.Record{}, fmt.Errorf("%s: failed to classify: %w", name, err)
		}
		if len(labels) == 1 {
			category = p.catalog.Code(labels[0])
		}
	}

	id := uuid.NewString()
	key := fmt.Sprintf("%s/%s%s", p.opts.ImagePrefix, id, format.Extension())
	if err := p.store.Put(ctx, key, data, format.ContentType()); err != nil {
		return index.Record{}, err
	}

	rec := index.Record{
		ID:     id,
		Vector: toFloat64(vec),
		Metadata: index.Metadata{
			Name:       filepath.Base(name),
			SourcePath: name,
			StoredKey:  key,
			Format:     string(format),
			Category:   category,
			Height:     r.Height,
			Width:      r.Width,
			AddedAt:    time.Now().UTC(),
		},
	}
	if err := p.index.Insert(rec); err != nil {
		// keep storage and index consistent
		_ = p.store.Delete(ctx, key)
		return index.Record{}, err
	}
	return rec, nil
}

// Image returns the stored bytes of an indexed record
func (p *Pipeline) Image(ctx context.Context, id string) ([]byte, index.Record, error) {
	rec, ok := p.index.Get(id)
	if !ok {
		return nil, index.Record{}, fmt.Errorf("%w: record %s", storage.ErrNotFound, id)
	}
	data, err := p.store.Get(ctx, rec.Metadata.StoredKey)
	if err != nil {
		return nil, rec, err
	}
	return data, rec, nil
}

// Summary returns the record count per category
func (p *Pipeline) Summary() map[string]int {
	return p.index.Summary()
}

// Len returns the number of indexed records
func (p *Pipeline) Len() int {
	return p.index.Len()
}

// AllowedFormat reports whether name has one of the given extensions
func AllowedFormat(name string, formats []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, f := range formats {
		if strings.EqualFold(ext, f) {
			return true
		}
	}
	return false
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
