package save

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// FileStore keeps one JSON file per slot under a directory. Writes go to a
// temp file first and are renamed into place.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

type fileEnvelope struct {
	Record
	Payload json.RawMessage `json:"payload"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("save dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(slot string) string {
	return filepath.Join(s.dir, slot+".json")
}

func (s *FileStore) Put(_ context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("save %s: payload is not valid json", rec.Slot)
	}
	raw, err := json.MarshalIndent(fileEnvelope{Record: rec, Payload: rec.Payload}, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, rec.Slot+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(rec.Slot)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, slot string) (Record, error) {
	slot, err := NormalizeSlot(slot)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.path(slot), true)
}

func (s *FileStore) read(path string, withPayload bool) (Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrSlotNotFound
		}
		return Record{}, err
	}
	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	rec := env.Record
	if withPayload {
		rec.Payload = []byte(env.Payload)
	}
	return rec, nil
}

func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, name), false)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, slot string) error {
	slot, err := NormalizeSlot(slot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(slot)); err != nil {
		if os.IsNotExist(err) {
			return ErrSlotNotFound
		}
		return err
	}
	return nil
}
