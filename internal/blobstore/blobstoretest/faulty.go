// Package blobstoretest provides fault injection for blobstore.Store.
package blobstoretest

import (
	"context"
	"sync"

	"github.com/imagestore/imagestore/internal/blobstore"
)

// Store wraps a blobstore.Store. Each error field, when set, replaces the
// result of the matching method. DeleteErrAfter lets that many deletes
// succeed before DeleteErr fires.
type Store struct {
	blobstore.Store

	mu             sync.Mutex
	deletes        int
	DeleteErrAfter int

	UploadErr   error
	DownloadErr error
	FindErr     error
	UpdateErr   error
	DeleteErr   error
	PingErr     error
}

func Faulty(inner blobstore.Store) *Store {
	return &Store{Store: inner}
}

func (s *Store) Upload(ctx context.Context, name string, data []byte, md map[string]string) error {
	if s.UploadErr != nil {
		return s.UploadErr
	}
	return s.Store.Upload(ctx, name, data, md)
}

func (s *Store) DownloadByName(ctx context.Context, name string) ([]byte, error) {
	if s.DownloadErr != nil {
		return nil, s.DownloadErr
	}
	return s.Store.DownloadByName(ctx, name)
}

func (s *Store) Find(ctx context.Context, q blobstore.Query) ([]blobstore.File, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	return s.Store.Find(ctx, q)
}

func (s *Store) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	return s.Store.UpdateMetadata(ctx, id, md)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	n := s.deletes
	s.mu.Unlock()
	if s.DeleteErr != nil && n > s.DeleteErrAfter {
		return s.DeleteErr
	}
	return s.Store.Delete(ctx, id)
}

func (s *Store) Ping(ctx context.Context) error {
	if s.PingErr != nil {
		return s.PingErr
	}
	return s.Store.Ping(ctx)
}
