package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/table"
)

const (
	badgerChunkPrefix = "chunk/"
	badgerManifestKey = "manifest"
)

// BadgerStore keeps chunk tables as CSV-encoded values in a badger
// database. Keys are zero-padded so iteration follows chunk order.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger database at dir
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, persistErr("open", -1, errors.New("empty checkpoint directory"))
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// NewInMemoryBadgerStore is a BadgerStore without files
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, persistErr("open", -1, err)
	}
	return &BadgerStore{db: db}, nil
}

func chunkKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%08d", badgerChunkPrefix, index))
}

func (s *BadgerStore) WriteChunk(ctx context.Context, chunk models.ChunkTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := table.WriteResults(&buf, chunk.Results); err != nil {
		return persistErr("encode", chunk.Index, err)
	}

	key := chunkKey(chunk.Index)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %d", ErrChunkExists, chunk.Index)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf.Bytes())
	})
	if errors.Is(err, ErrChunkExists) {
		return err
	}
	if err != nil {
		return persistErr("write", chunk.Index, err)
	}
	return nil
}

func (s *BadgerStore) ReadChunk(ctx context.Context, index int) (models.ChunkTable, error) {
	if err := ctx.Err(); err != nil {
		return models.ChunkTable{}, err
	}
	var rows []models.EdgeResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(index))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			rows, derr = table.ReadResults(bytes.NewReader(val))
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.ChunkTable{}, fmt.Errorf("%w: %d", ErrChunkNotFound, index)
	}
	if err != nil {
		return models.ChunkTable{}, persistErr("read", index, err)
	}
	return models.ChunkTable{Index: index, Results: rows}, nil
}

func (s *BadgerStore) HasChunk(ctx context.Context, index int) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(chunkKey(index))
		return err
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, persistErr("stat", index, err)
}

func (s *BadgerStore) ListChunks(ctx context.Context) ([]int, error) {
	var out []int
	prefix := []byte(badgerChunkPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), badgerChunkPrefix)
			idx, err := strconv.Atoi(rest)
			if err != nil {
				return fmt.Errorf("bad chunk key %q: %w", it.Item().Key(), err)
			}
			out = append(out, idx)
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("list", -1, err)
	}
	return out, nil
}

func (s *BadgerStore) WriteManifest(ctx context.Context, m models.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return persistErr("encode manifest", -1, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerManifestKey), data)
	})
	if err != nil {
		return persistErr("write manifest", -1, err)
	}
	return nil
}

func (s *BadgerStore) ReadManifest(ctx context.Context) (models.Manifest, error) {
	var m models.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerManifestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Manifest{}, ErrManifestNotFound
	}
	if err != nil {
		return models.Manifest{}, persistErr("read manifest", -1, err)
	}
	return m, nil
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return persistErr("close", -1, err)
	}
	return nil
}
