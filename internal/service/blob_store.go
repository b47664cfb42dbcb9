package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned for revoked or unknown blob ids.
var ErrBlobNotFound = errors.New("blob not found")

// BlobURLPrefix is the local API path blobs are served under.
const BlobURLPrefix = "/api/blobs/"

// Blob is an authenticated download held in memory for preview.
type Blob struct {
	ID        string
	Name      string
	Mime      string
	Data      []byte
	CreatedAt time.Time
}

// URL returns the transient local address of the blob.
func (b Blob) URL() string {
	return BlobURLPrefix + b.ID
}

// BlobStore keeps preview bytes until they are explicitly revoked.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewBlobStore constructs an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// Put stores data and returns the blob with its new id.
func (s *BlobStore) Put(name, mime string, data []byte) Blob {
	blob := Blob{
		ID:        uuid.NewString(),
		Name:      name,
		Mime:      mime,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.blobs[blob.ID] = blob
	s.mu.Unlock()
	return blob
}

// Get returns a stored blob.
func (s *BlobStore) Get(id string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[id]
	if !ok {
		return Blob{}, ErrBlobNotFound
	}
	return blob, nil
}

// Revoke frees a blob. Revoking an unknown id is a no-op.
func (s *BlobStore) Revoke(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

// Len reports how many blobs are held.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
