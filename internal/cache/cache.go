package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache is a byte-oriented TTL store
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key namespaces a cache key, e.g. Key("identifier", "ISIN", "INE002A01018")
func Key(parts ...string) string {
	return "credible:v1:" + strings.Join(parts, ":")
}

// ContentKey derives a key from raw content (extraction results are keyed this way)
func ContentKey(namespace string, content []byte) string {
	sum := sha256.Sum256(content)
	return Key(namespace, hex.EncodeToString(sum[:]))
}

// Typed stores JSON-encoded values of T in an underlying Cache
type Typed[T any] struct {
	store Cache
}

// NewTyped wraps store
func NewTyped[T any](store Cache) *Typed[T] {
	return &Typed[T]{store: store}
}

// Get decodes the value at key; undecodable entries count as misses
func (t *Typed[T]) Get(key string) (T, bool) {
	var zero T
	raw, ok := t.store.Get(key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Set encodes and stores v
func (t *Typed[T]) Set(key string, v T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return t.store.Set(key, raw, ttl)
}

// Delete removes key
func (t *Typed[T]) Delete(key string) error {
	return t.store.Delete(key)
}

// Clear empties the underlying store
func (t *Typed[T]) Clear() error {
	return t.store.Clear()
}
