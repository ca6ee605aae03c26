package search

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/singleflight"

	"github.com/sievesearch/sieve/pkg/index"
)

// SearchContext holds the read state of a single search. Word docids read
// through it are cached for the lifetime of the search, so relaxed versions
// of a query do not hit the index again for words they share.
type SearchContext struct {
	reader index.Reader

	mu        sync.RWMutex
	wordCache map[string]*roaring.Bitmap // GUARDED_BY(mu).
	group     singleflight.Group
}

func NewSearchContext(reader index.Reader) *SearchContext {
	return &SearchContext{
		reader:    reader,
		wordCache: map[string]*roaring.Bitmap{},
	}
}

// Reader returns the index the search reads from.
func (s *SearchContext) Reader() index.Reader {
	return s.reader
}

// WordDocids returns the ids of the documents containing word. The returned
// bitmap is shared with later calls and must not be modified. Concurrent calls
// for the same word read the index once.
func (s *SearchContext) WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error) {
	s.mu.RLock()
	docids, ok := s.wordCache[word]
	s.mu.RUnlock()
	if ok {
		return docids, nil
	}

	v, err, _ := s.group.Do(word, func() (interface{}, error) {
		docids, err := s.reader.WordDocids(ctx, word)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.wordCache[word] = docids
		s.mu.Unlock()
		return docids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*roaring.Bitmap), nil
}

// CachedWords returns the number of words read so far.
func (s *SearchContext) CachedWords() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wordCache)
}
