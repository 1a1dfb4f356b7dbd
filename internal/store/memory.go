package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
)

type memObject struct {
	key         string
	body        []byte
	contentType string
}

func lessObject(a, b memObject) bool {
	return a.key < b.key
}

// MemoryStore is an in-process ObjectStore with S3 listing semantics.
// Keys are kept in a B-tree so List returns them in lexicographic order.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*btree.BTreeG[memObject]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*btree.BTreeG[memObject])}
}

// Put stores a copy of body.
func (m *MemoryStore) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, ok := m.buckets[bucket]
	if !ok {
		tree = btree.NewG(32, lessObject)
		m.buckets[bucket] = tree
	}
	data := make([]byte, len(body))
	copy(data, body)
	tree.ReplaceOrInsert(memObject{key: key, body: data, contentType: contentType})
	return nil
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(obj.body))
	copy(data, obj.body)
	return data, nil
}

// List returns keys under prefix in lexicographic order.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []string{}
	tree, ok := m.buckets[bucket]
	if !ok {
		return keys, nil
	}
	tree.AscendGreaterOrEqual(memObject{key: prefix}, func(obj memObject) bool {
		if !strings.HasPrefix(obj.key, prefix) {
			return false
		}
		keys = append(keys, obj.key)
		return true
	})
	return keys, nil
}

// Size returns the stored object's length.
func (m *MemoryStore) Size(_ context.Context, bucket, key string) (int64, error) {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return 0, err
	}
	return int64(len(obj.body)), nil
}

// ContentType returns the content type recorded at Put.
func (m *MemoryStore) ContentType(bucket, key string) (string, error) {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return "", err
	}
	return obj.contentType, nil
}

// PresignGet returns a memory:// URL carrying the expiry. It is only meaningful for dry runs.
func (m *MemoryStore) PresignGet(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if _, err := m.lookup(bucket, key); err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "memory",
		Host:     bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"expires": []string{expiry.String()}}.Encode(),
	}
	return u.String(), nil
}

func (m *MemoryStore) lookup(bucket, key string) (memObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree, ok := m.buckets[bucket]
	if !ok {
		return memObject{}, fmt.Errorf("%w: %s", ErrNotFound, URI(bucket, key))
	}
	obj, ok := tree.Get(memObject{key: key})
	if !ok {
		return memObject{}, fmt.Errorf("%w: %s", ErrNotFound, URI(bucket, key))
	}
	return obj, nil
}
