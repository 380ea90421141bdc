// Package index provides nearest-neighbour search over image descriptors.
//
// The [Index] interface is what the retrieval pipeline talks to. [Memory] is
// a brute-force implementation that can be snapshotted to JSON and restored.
package index

import (
	"errors"
	"time"
)

// ErrDimension is returned when a vector's length differs from the index's.
var ErrDimension = errors.New("index: vector dimension mismatch")

// Metadata describes where an indexed image came from
type Metadata struct {
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path,omitempty"`
	StoredKey  string    `json:"stored_key"`
	Format     string    `json:"format,omitempty"`
	Category   string    `json:"category,omitempty"`
	Height     int       `json:"height"`
	Width      int       `json:"width"`
	AddedAt    time.Time `json:"added_at"`
}

// Record is one indexed image
type Record struct {
	ID       string    `json:"id"`
	Vector   []float64 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

// Match is a single search result
type Match struct {
	Record   Record  `json:"record"`
	Distance float64 `json:"distance"`
}

// Index is safe for concurrent use.
type Index interface {
	// Insert adds or replaces the record with the same ID.
	Insert(rec Record) error

	// Search returns up to k records ordered by ascending distance.
	Search(query []float64, k int) ([]Match, error)

	// Get returns the record with the given ID.
	Get(id string) (Record, bool)

	// Delete removes a record. Unknown IDs are ignored.
	Delete(id string)

	// Len returns the number of records.
	Len() int

	// Summary counts records per category.
	Summary() map[string]int
}
