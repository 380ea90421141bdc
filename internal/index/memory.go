package index

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Metric names a distance function
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "l2"
)

// snapshotVersion is bumped when the snapshot layout changes
const snapshotVersion = 1

type snapshot struct {
	Version int      `json:"version"`
	Metric  Metric   `json:"metric"`
	Dim     int      `json:"dim"`
	Records []Record `json:"records"`
}

// Memory is a brute-force in-memory index
type Memory struct {
	mu      sync.RWMutex
	metric  Metric
	dim     int
	records map[string]Record
	norms   map[string]float64
}

// NewMemory creates an empty index. The dimension is fixed by the first insert.
func NewMemory(metric Metric) (*Memory, error) {
	switch metric {
	case Cosine, Euclidean:
	default:
		return nil, fmt.Errorf("index: unknown metric %q", metric)
	}
	return &Memory{
		metric:  metric,
		records: make(map[string]Record),
		norms:   make(map[string]float64),
	}, nil
}

// Metric returns the distance function in use.
func (m *Memory) Metric() Metric {
	return m.metric
}

// Insert implements Index.
func (m *Memory) Insert(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("index: record has no id")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("index: record %s has an empty vector", rec.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dim == 0 {
		m.dim = len(rec.Vector)
	} else if len(rec.Vector) != m.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(rec.Vector), m.dim)
	}

	vec := make([]float64, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec
	m.records[rec.ID] = rec
	m.norms[rec.ID] = floats.Norm(vec, 2)
	return nil
}

// Search implements Index.
func (m *Memory) Search(query []float64, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 {
		return nil, nil
	}
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), m.dim)
	}

	qnorm := floats.Norm(query, 2)
	matches := make([]Match, 0, len(m.records))
	for id, rec := range m.records {
		matches = append(matches, Match{
			Record:   rec,
			Distance: m.distance(query, qnorm, rec.Vector, m.norms[id]),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) distance(q []float64, qnorm float64, v []float64, vnorm float64) float64 {
	if m.metric == Euclidean {
		return floats.Distance(q, v, 2)
	}
	if qnorm == 0 || vnorm == 0 {
		return 1
	}
	d := 1 - floats.Dot(q, v)/(qnorm*vnorm)
	return math.Max(d, 0)
}

// Get implements Index.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Delete implements Index.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	delete(m.norms, id)
	if len(m.records) == 0 {
		m.dim = 0
	}
}

// Len implements Index.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Summary implements Index. Records without a category count as "unknown".
func (m *Memory) Summary() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int)
	for _, rec := range m.records {
		cat := rec.Metadata.Category
		if cat == "" {
			cat = "unknown"
		}
		out[cat]++
	}
	return out
}

// Save writes a JSON snapshot of the index, records sorted by ID.
func (m *Memory) Save(w io.Writer) error {
	m.mu.RLock()
	snap := snapshot{
		Version: snapshotVersion,
		Metric:  m.metric,
		Dim:     m.dim,
		Records: make([]Record, 0, len(m.records)),
	}
	for _, rec := range m.records {
		snap.Records = append(snap.Records, rec)
	}
	m.mu.RUnlock()

	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].ID < snap.Records[j].ID
	})
	return json.NewEncoder(w).Encode(snap)
}

// Load replaces the index contents with a snapshot written by Save.
func (m *Memory) Load(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("index: failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("index: unsupported snapshot version %d", snap.Version)
	}
	if snap.Metric != m.metric {
		return fmt.Errorf("index: snapshot uses metric %q, index uses %q", snap.Metric, m.metric)
	}

	fresh, _ := NewMemory(m.metric)
	for _, rec := range snap.Records {
		if err := fresh.Insert(rec); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dim = fresh.dim
	m.records = fresh.records
	m.norms = fresh.norms
	return nil
}
