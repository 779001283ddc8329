package blobstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
)

type memoryFile struct {
	File
	seq  int64
	data []byte
}

// MemoryStore keeps blobs in process memory. Uploading an existing name
// adds a new revision; downloads return the newest one, like GridFS.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	files map[string]*memoryFile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*memoryFile)}
}

func (s *MemoryStore) Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("mem-%d", s.seq)
	s.files[id] = &memoryFile{
		File: File{ID: id, Name: name, Size: int64(len(data)), Metadata: maps.Clone(metadata)},
		seq:  s.seq,
		data: append([]byte(nil), data...),
	}
	return nil
}

func (s *MemoryStore) DownloadByName(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *memoryFile
	for _, f := range s.files {
		if f.Name == name && (newest == nil || f.seq > newest.seq) {
			newest = f
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]byte(nil), newest.data...), nil
}

// Find returns matches in upload order.
func (s *MemoryStore) Find(ctx context.Context, q Query) ([]File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []*memoryFile
	for _, f := range s.files {
		if q.Matches(f.File) {
			hits = append(hits, f)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]File, len(hits))
	for i, f := range hits {
		out[i] = f.File
		out[i].Metadata = maps.Clone(f.Metadata)
	}
	return out, nil
}

func (s *MemoryStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if f.Metadata == nil {
		f.Metadata = make(map[string]string, len(metadata))
	}
	maps.Copy(f.Metadata, metadata)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	delete(s.files, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
