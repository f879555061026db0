// Package checkpoint persists chunk tables and the run manifest. Each chunk
// is written exactly once; the manifest may be rewritten as a run advances.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

var (
	// ErrPersistence wraps every storage failure.
	ErrPersistence = errors.New("checkpoint: persistence failure")
	// ErrChunkExists is returned when a chunk artifact is already present.
	ErrChunkExists = errors.New("checkpoint: chunk already written")
	// ErrChunkNotFound is returned when a chunk artifact is absent.
	ErrChunkNotFound = errors.New("checkpoint: chunk not found")
	// ErrManifestNotFound is returned when the store holds no manifest.
	ErrManifestNotFound = errors.New("checkpoint: manifest not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("checkpoint: unknown backend")
)

const (
	BackendDir    = "dir"
	BackendBadger = "badger"
)

// Store holds the checkpoint artifacts of one run. Concurrent runs must
// not share a Store.
type Store interface {
	// WriteChunk persists a chunk table; ErrChunkExists if already present.
	WriteChunk(ctx context.Context, chunk models.ChunkTable) error
	// ReadChunk loads a chunk table; ErrChunkNotFound if absent.
	ReadChunk(ctx context.Context, index int) (models.ChunkTable, error)
	HasChunk(ctx context.Context, index int) (bool, error)
	// ListChunks returns the stored chunk indexes in discovery order.
	ListChunks(ctx context.Context) ([]int, error)
	WriteManifest(ctx context.Context, m models.Manifest) error
	// ReadManifest returns ErrManifestNotFound if none was written.
	ReadManifest(ctx context.Context) (models.Manifest, error)
	Close() error
}

// PersistenceError identifies the operation and chunk that failed
type PersistenceError struct {
	Op    string
	Chunk int // -1 for the manifest or the store itself
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Chunk < 0 {
		return fmt.Sprintf("checkpoint: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint: %s chunk %d: %v", e.Op, e.Chunk, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistErr(op string, chunk int, err error) error {
	return &PersistenceError{Op: op, Chunk: chunk, Err: err}
}

// Open returns the store for a backend name rooted at path
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendDir:
		return NewDirStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
