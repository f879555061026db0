package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/table"
)

const (
	chunkPrefix  = "chunk_"
	chunkSuffix  = ".csv"
	manifestFile = "manifest.json"
)

// ChunkFileName is the artifact name for a zero-based chunk index
func ChunkFileName(index int) string {
	return fmt.Sprintf("%s%d%s", chunkPrefix, index, chunkSuffix)
}

// DirStore keeps one CSV file per chunk in a directory
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, persistErr("open", -1, errors.New("empty checkpoint directory"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, persistErr("open", -1, err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) chunkPath(index int) string {
	return filepath.Join(s.dir, ChunkFileName(index))
}

func (s *DirStore) WriteChunk(ctx context.Context, chunk models.ChunkTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.chunkPath(chunk.Index)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrChunkExists, path)
	}

	var buf bytes.Buffer
	if err := table.WriteResults(&buf, chunk.Results); err != nil {
		return persistErr("encode", chunk.Index, err)
	}
	if err := writeFileAtomic(s.dir, path, buf.Bytes()); err != nil {
		return persistErr("write", chunk.Index, err)
	}
	return nil
}

func (s *DirStore) ReadChunk(ctx context.Context, index int) (models.ChunkTable, error) {
	if err := ctx.Err(); err != nil {
		return models.ChunkTable{}, err
	}
	f, err := os.Open(s.chunkPath(index))
	if errors.Is(err, fs.ErrNotExist) {
		return models.ChunkTable{}, fmt.Errorf("%w: %d", ErrChunkNotFound, index)
	}
	if err != nil {
		return models.ChunkTable{}, persistErr("read", index, err)
	}
	defer f.Close()

	rows, err := table.ReadResults(f)
	if err != nil {
		return models.ChunkTable{}, persistErr("decode", index, err)
	}
	return models.ChunkTable{Index: index, Results: rows}, nil
}

func (s *DirStore) HasChunk(ctx context.Context, index int) (bool, error) {
	_, err := os.Stat(s.chunkPath(index))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, persistErr("stat", index, err)
}

// ListChunks returns indexes in directory listing order
func (s *DirStore) ListChunks(ctx context.Context) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, persistErr("list", -1, err)
	}
	var out []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := parseChunkName(e.Name()); ok {
			out = append(out, idx)
		}
	}
	return out, nil
}

func parseChunkName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, chunkPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, chunkSuffix)
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func (s *DirStore) WriteManifest(ctx context.Context, m models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return persistErr("encode manifest", -1, err)
	}
	if err := writeFileAtomic(s.dir, filepath.Join(s.dir, manifestFile), data); err != nil {
		return persistErr("write manifest", -1, err)
	}
	return nil
}

func (s *DirStore) ReadManifest(ctx context.Context) (models.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return models.Manifest{}, ErrManifestNotFound
	}
	if err != nil {
		return models.Manifest{}, persistErr("read manifest", -1, err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return models.Manifest{}, persistErr("decode manifest", -1, err)
	}
	return m, nil
}

func (s *DirStore) Close() error { return nil }

// writeFileAtomic writes data next to path and renames it into place, so
// a reader never sees a partially written artifact.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
