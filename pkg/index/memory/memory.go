// Package memory contains an ephemeral in-memory implementation of
// [index.Index].
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sievesearch/sieve/pkg/index"
)

var tracer = otel.Tracer("sieve/pkg/index/memory")

type IndexOption func(idx *MemoryIndex)

// WithMaxDocumentsPerWrite sets the largest batch accepted by WriteDocuments.
func WithMaxDocumentsPerWrite(n int) IndexOption {
	return func(idx *MemoryIndex) { idx.maxDocumentsPerWrite = n }
}

// MemoryIndex keeps the inverted index in maps. Instances may be safely shared
// by multiple goroutines.
type MemoryIndex struct {
	maxDocumentsPerWrite int

	mu sync.RWMutex
	// map: word => ids of the documents containing it
	words     map[string]*roaring.Bitmap // GUARDED_BY(mu).
	documents map[uint32]*index.Document // GUARDED_BY(mu).
	ids       *roaring.Bitmap            // GUARDED_BY(mu).
	closed    bool                       // GUARDED_BY(mu).
}

var _ index.Index = (*MemoryIndex)(nil)

func New(opts ...IndexOption) *MemoryIndex {
	idx := &MemoryIndex{
		maxDocumentsPerWrite: index.MaxDocumentsPerWrite,
		words:                map[string]*roaring.Bitmap{},
		documents:            map[uint32]*index.Document{},
		ids:                  roaring.New(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// WordDocids see [index.Reader].WordDocids.
func (m *MemoryIndex) WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error) {
	_, span := tracer.Start(ctx, "memory.WordDocids")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, index.ErrClosed
	}

	docids, ok := m.words[word]
	if !ok {
		return roaring.New(), nil
	}
	return docids.Clone(), nil
}

// DocumentIDs see [index.Reader].DocumentIDs.
func (m *MemoryIndex) DocumentIDs(ctx context.Context) (*roaring.Bitmap, error) {
	_, span := tracer.Start(ctx, "memory.DocumentIDs")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, index.ErrClosed
	}
	return m.ids.Clone(), nil
}

// Documents see [index.Reader].Documents.
func (m *MemoryIndex) Documents(ctx context.Context, ids []uint32) ([]*index.Document, error) {
	_, span := tracer.Start(ctx, "memory.Documents")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, index.ErrClosed
	}

	docs := make([]*index.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := m.documents[id]; ok {
			docs = append(docs, cloneDocument(doc))
		}
	}
	return docs, nil
}

// WriteDocuments see [index.Writer].WriteDocuments.
func (m *MemoryIndex) WriteDocuments(ctx context.Context, docs []*index.Document) error {
	_, span := tracer.Start(ctx, "memory.WriteDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) > m.maxDocumentsPerWrite {
		return fmt.Errorf("%w: %d > %d", index.ErrExceededWriteBatchLimit, len(docs), m.maxDocumentsPerWrite)
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return index.ErrClosed
	}

	for _, doc := range docs {
		m.remove(doc.ID)
		for _, w := range doc.DistinctWords() {
			docids, ok := m.words[w]
			if !ok {
				docids = roaring.New()
				m.words[w] = docids
			}
			docids.Add(doc.ID)
		}
		m.documents[doc.ID] = cloneDocument(doc)
		m.ids.Add(doc.ID)
	}
	return nil
}

// DeleteDocuments see [index.Writer].DeleteDocuments.
func (m *MemoryIndex) DeleteDocuments(ctx context.Context, ids []uint32) error {
	_, span := tracer.Start(ctx, "memory.DeleteDocuments")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return index.ErrClosed
	}

	for _, id := range ids {
		m.remove(id)
	}
	return nil
}

// remove drops a document and its words. m.mu must be held for writing.
func (m *MemoryIndex) remove(id uint32) {
	doc, ok := m.documents[id]
	if !ok {
		return
	}
	for _, w := range doc.DistinctWords() {
		docids := m.words[w]
		docids.Remove(id)
		if docids.IsEmpty() {
			delete(m.words, w)
		}
	}
	delete(m.documents, id)
	m.ids.Remove(id)
}

// IsReady see [index.Index].IsReady.
func (m *MemoryIndex) IsReady(context.Context) (index.ReadinessStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return index.ReadinessStatus{Message: "index is closed"}, nil
	}
	return index.ReadinessStatus{IsReady: true}, nil
}

// Close see [index.Index].Close.
func (m *MemoryIndex) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.words = nil
	m.documents = nil
}

func cloneDocument(doc *index.Document) *index.Document {
	return &index.Document{ID: doc.ID, Fields: maps.Clone(doc.Fields)}
}
