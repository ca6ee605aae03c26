// Package cache contains a size bounded in-memory cache shared by the search
// components.
package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

const defaultMaxCacheSize = 10000

// InMemoryCache is a general purpose cache to store things in memory.
type InMemoryCache[T any] interface {
	// Get returns the value stored under key and whether it was found and
	// not expired.
	Get(key string) (T, bool)
	Set(key string, value T, ttl time.Duration)
	Delete(key string)

	// Stop cleans resources.
	Stop()
}

// InMemoryLRUCache is an InMemoryCache evicting the least recently used
// entries once it holds more than its max size.
type InMemoryLRUCache[T any] struct {
	ccache      *ccache.Cache[T]
	maxElements int64
	closeOnce   *sync.Once
}

type InMemoryLRUCacheOpt[T any] func(i *InMemoryLRUCache[T])

func WithMaxCacheSize[T any](maxElements int64) InMemoryLRUCacheOpt[T] {
	return func(i *InMemoryLRUCache[T]) {
		i.maxElements = maxElements
	}
}

var _ InMemoryCache[any] = (*InMemoryLRUCache[any])(nil)

func NewInMemoryLRUCache[T any](opts ...InMemoryLRUCacheOpt[T]) *InMemoryLRUCache[T] {
	t := &InMemoryLRUCache[T]{
		maxElements: defaultMaxCacheSize,
		closeOnce:   &sync.Once{},
	}

	for _, opt := range opts {
		opt(t)
	}

	t.ccache = ccache.New(ccache.Configure[T]().MaxSize(t.maxElements))
	return t
}

func (i *InMemoryLRUCache[T]) Get(key string) (T, bool) {
	var zero T
	item := i.ccache.Get(key)
	if item == nil || item.Expired() {
		return zero, false
	}
	return item.Value(), true
}

func (i *InMemoryLRUCache[T]) Set(key string, value T, ttl time.Duration) {
	i.ccache.Set(key, value, ttl)
}

func (i *InMemoryLRUCache[T]) Delete(key string) {
	i.ccache.Delete(key)
}

// ItemCount returns the number of entries, expired ones included.
func (i *InMemoryLRUCache[T]) ItemCount() int {
	return i.ccache.ItemCount()
}

func (i *InMemoryLRUCache[T]) Stop() {
	i.closeOnce.Do(func() {
		i.ccache.Stop()
	})
}
