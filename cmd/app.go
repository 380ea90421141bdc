package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/config"
	"github.com/aetherspritee/msirs/internal/descriptor"
	"github.com/aetherspritee/msirs/internal/index"
	"github.com/aetherspritee/msirs/internal/retrieval"
	"github.com/aetherspritee/msirs/internal/segment"
	"github.com/aetherspritee/msirs/internal/storage"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// app holds the collaborators shared by every command
type app struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	processor *tile.Processor
	model     *descriptor.Client
	pipeline  *retrieval.Pipeline
}

// newApp loads the configuration and wires the model client, storage and
// index. The persisted index snapshot is loaded when withIndex is set.
func newApp(ctx context.Context, withIndex bool) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	model, err := descriptor.NewClient(descriptor.ClientOptions{
		URL:             cfg.Model.URL,
		Classifier:      cfg.Model.Classifier,
		Descriptor:      cfg.Model.Descriptor,
		DescriptorLayer: cfg.Model.DescriptorLayer,
		InputSize:       cfg.Model.InputSize,
		Rescale:         float32(cfg.Model.Rescale),
		Timeout:         cfg.Model.Timeout,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		catalog:   cat,
		processor: tile.NewProcessor(cfg.Model.UserAgent),
		model:     model,
	}
	if !withIndex {
		return a, nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	idx, err := index.NewMemory(index.Metric(strings.ToLower(cfg.Index.Metric)))
	if err != nil {
		return nil, err
	}
	a.pipeline = retrieval.New(model, model, idx, store, a.processor, cat, retrieval.Options{
		TopK:     cfg.Index.TopK,
		IndexKey: cfg.Index.Key,
	})
	if err := a.pipeline.Open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) segmenter() *segment.Segmenter {
	return segment.New(a.model, segment.Options{
		WindowSize: a.cfg.Tiling.WindowSize,
		StepSize:   a.cfg.Tiling.StepSize,
		BatchSize:  a.cfg.Tiling.BatchSize,
		Workers:    a.cfg.Tiling.Workers,
	})
}
