package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"carstudio/internal/domain"
)

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Handle]domain.Payload
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Handle]domain.Payload)}
}

func (s *MemoryStore) Put(ctx context.Context, payload domain.Payload) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := make([]byte, len(payload.Data))
	copy(data, payload.Data)
	payload.Data = data

	handle := Handle(uuid.NewString())
	s.mu.Lock()
	s.blobs[handle] = payload
	s.mu.Unlock()
	return handle, nil
}

func (s *MemoryStore) Get(ctx context.Context, handle Handle) (domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payload{}, err
	}
	s.mu.RLock()
	payload, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok {
		return domain.Payload{}, ErrHandleNotFound
	}
	return payload, nil
}

func (s *MemoryStore) Release(handle Handle) {
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

var _ BlobStore = (*MemoryStore)(nil)
