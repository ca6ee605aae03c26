// Package index defines the storage layer queried by searches: an inverted
// index from normalized words to the ids of the documents containing them,
// plus the documents themselves.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"github.com/sievesearch/sieve/pkg/tokenizer"
)

var (
	// ErrInvalidDocument is returned when writing a document with no
	// searchable field.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrClosed is returned by an index used after Close.
	ErrClosed = errors.New("index is closed")

	// ErrExceededWriteBatchLimit if more documents than MaxDocumentsPerWrite
	// are written at once.
	ErrExceededWriteBatchLimit = errors.New("number of documents exceeded write batch limit")
)

// MaxDocumentsPerWrite is the largest batch accepted by WriteDocuments.
const MaxDocumentsPerWrite = 1000

// Document is a set of named text fields identified by a numeric id.
type Document struct {
	ID     uint32            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Words returns the normalized words of every field of the document, fields
// being visited in name order.
func (d *Document) Words() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	var words []string
	for _, name := range names {
		words = append(words, tokenizer.Tokenize(d.Fields[name])...)
	}
	return words
}

// Validate returns ErrInvalidDocument if the document has nothing to index.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if len(d.Words()) == 0 {
		return fmt.Errorf("%w: document %d has no searchable words", ErrInvalidDocument, d.ID)
	}
	return nil
}

// Reader is the read side of an index.
type Reader interface {
	// WordDocids returns the ids of the documents containing word. The word
	// is expected to be normalized. An unknown word yields an empty bitmap.
	// The returned bitmap is owned by the caller.
	WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error)

	// DocumentIDs returns the ids of every document in the index.
	DocumentIDs(ctx context.Context) (*roaring.Bitmap, error)

	// Documents returns the documents with the given ids, in the order of ids.
	// Unknown ids are skipped.
	Documents(ctx context.Context, ids []uint32) ([]*Document, error)
}

// Writer is the write side of an index.
type Writer interface {
	// WriteDocuments adds the given documents, replacing any document with
	// the same id.
	WriteDocuments(ctx context.Context, docs []*Document) error

	// DeleteDocuments removes the documents with the given ids. Unknown ids
	// are ignored.
	DeleteDocuments(ctx context.Context, ids []uint32) error
}

// Index is a readable and writable index.
type Index interface {
	Reader
	Writer

	// IsReady reports whether the index can serve requests.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close releases the resources held by the index.
	Close()
}

// ReadinessStatus represents the readiness status of an index.
type ReadinessStatus struct {
	// Message is a human-friendly status message for the current index status.
	Message string

	IsReady bool
}

// DistinctWords returns the distinct words of a document, sorted. Index
// engines store one word_docids entry per distinct word.
func (d *Document) DistinctWords() []string {
	words := d.Words()
	slices.Sort(words)
	return slices.Compact(words)
}
