// Package index implements the read-only retrieval index: a persisted
// snapshot of embedded document fragments searched by cosine similarity.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/tribu-digital/campaignbot/internal/domain"
)

// Embedder turns free text into a numeric vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Entry is one embedded fragment in the snapshot.
type Entry struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Text     string    `json:"text"`
	Vector   []float64 `json:"vector"`
}

// Snapshot is the on-disk index format produced by cmd/indexer.
type Snapshot struct {
	Model     string  `json:"model"`
	Dimension int     `json:"dimension"`
	Entries   []Entry `json:"entries"`
}

// Index answers similarity queries against a loaded snapshot. The entry set
// is immutable after Load, so Search needs no locking.
type Index struct {
	embedder Embedder
	entries  []Entry
}

// Load reads a snapshot from disk and prepares it for searching. Vectors
// are L2-normalized once here so Search can use a plain dot product.
func Load(path string, embedder Embedder) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse index snapshot: %w", err)
	}
	if len(snap.Entries) == 0 {
		return nil, fmt.Errorf("index snapshot %s has no entries", path)
	}
	for i := range snap.Entries {
		if len(snap.Entries[i].Vector) != snap.Dimension {
			return nil, fmt.Errorf("entry %s: vector dimension %d, want %d",
				snap.Entries[i].ID, len(snap.Entries[i].Vector), snap.Dimension)
		}
		normalize(snap.Entries[i].Vector)
	}
	return &Index{embedder: embedder, entries: snap.Entries}, nil
}

// Len returns the number of indexed fragments.
func (ix *Index) Len() int { return len(ix.entries) }

// Search embeds the query and returns the topK most similar fragments in
// descending score order. Ties keep snapshot order (stable sort).
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]domain.Fragment, error) {
	if topK <= 0 {
		topK = 3
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	normalize(vec)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.entries))
	for i := range ix.entries {
		scores[i] = scored{i, dot(ix.entries[i].Vector, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.Fragment, 0, topK)
	for _, s := range scores[:topK] {
		e := ix.entries[s.idx]
		out = append(out, domain.Fragment{Text: e.Text, Score: s.score, SourceID: e.SourceID})
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
