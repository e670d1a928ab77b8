package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"carstudio/internal/domain"
)

// FileStore spools blobs onto the local filesystem so large batches do not
// have to stay resident. Only the media type index is kept in memory.
type FileStore struct {
	basePath string

	mu    sync.Mutex
	index map[string]fileEntry
}

type fileEntry struct {
	key      string
	mimeType string
	filename string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, index: make(map[string]fileEntry)}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) Put(ctx context.Context, payload domain.Payload) (Handle, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	handle := Handle(uuid.NewString())
	key, err := s.write(ctx, string(handle)+".blob", payload.Data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.index[string(handle)] = fileEntry{key: key, mimeType: payload.MIMEType, filename: payload.Filename}
	s.mu.Unlock()
	return handle, nil
}

func (s *FileStore) Get(ctx context.Context, handle Handle) (domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payload{}, err
	}
	s.mu.Lock()
	entry, ok := s.index[string(handle)]
	s.mu.Unlock()
	if !ok {
		return domain.Payload{}, ErrHandleNotFound
	}
	data, err := os.ReadFile(s.fullPath(entry.key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Payload{}, ErrHandleNotFound
		}
		return domain.Payload{}, fmt.Errorf("storage: read file: %w", err)
	}
	return domain.Payload{Data: data, MIMEType: entry.mimeType, Filename: entry.filename}, nil
}

// Release removes the spooled file. Unknown handles are ignored.
func (s *FileStore) Release(handle Handle) {
	if s == nil || handle == "" {
		return
	}
	s.mu.Lock()
	entry, ok := s.index[string(handle)]
	delete(s.index, string(handle))
	s.mu.Unlock()
	if ok {
		_ = os.Remove(s.fullPath(entry.key))
	}
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *FileStore) fullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// write persists the provided bytes at the given relative key and returns the
// canonicalized storage key.
func (s *FileStore) write(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := s.fullPath(cleanKey)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ BlobStore = (*FileStore)(nil)
