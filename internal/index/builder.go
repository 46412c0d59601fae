package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Builder turns a directory of .txt documents into an index snapshot.
type Builder struct {
	chunker  *SentenceChunker
	embedder Embedder
	model    string
}

// NewBuilder creates a snapshot builder. model is recorded in the snapshot
// so mismatched query embedders can be detected by operators.
func NewBuilder(chunker *SentenceChunker, embedder Embedder, model string) *Builder {
	return &Builder{chunker: chunker, embedder: embedder, model: model}
}

// Build reads every .txt file under dataDir, chunks and embeds it.
func (b *Builder) Build(ctx context.Context, dataDir string) (*Snapshot, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.txt"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .txt documents found in %s", dataDir)
	}

	snap := &Snapshot{Model: b.model}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", p, err)
		}
		sourceID := hashString(p)
		for i, chunk := range b.chunker.Chunk(string(data)) {
			vec, err := b.embedder.Embed(ctx, chunk)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %d of %s: %w", i, p, err)
			}
			if snap.Dimension == 0 {
				snap.Dimension = len(vec)
			}
			if len(vec) != snap.Dimension {
				return nil, fmt.Errorf("chunk %d of %s: dimension %d, want %d", i, p, len(vec), snap.Dimension)
			}
			snap.Entries = append(snap.Entries, Entry{
				ID:       sourceID + ":" + strconv.Itoa(i),
				SourceID: sourceID + ":" + filepath.Base(p),
				Text:     strings.TrimSpace(chunk),
				Vector:   vec,
			})
		}
	}
	return snap, nil
}

// Save writes the snapshot to path, creating parent directories as needed.
func (s *Snapshot) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
