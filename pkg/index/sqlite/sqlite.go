// Package sqlite contains an implementation of [index.Index] persisted in a
// SQLite database. Every word_docids row holds the portable serialization of
// a roaring bitmap.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	"github.com/RoaringBitmap/roaring"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sievesearch/sieve/internal/build"
	sieveerrors "github.com/sievesearch/sieve/internal/errors"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/logger"
)

var tracer = otel.Tracer("sieve/pkg/index/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Config holds the settings of a SQLite index.
type Config struct {
	Logger               logger.Logger
	ExportMetrics        bool
	MaxDocumentsPerWrite int
}

type ConfigOption func(*Config)

func WithLogger(l logger.Logger) ConfigOption {
	return func(c *Config) { c.Logger = l }
}

func WithMetrics() ConfigOption {
	return func(c *Config) { c.ExportMetrics = true }
}

func WithMaxDocumentsPerWrite(n int) ConfigOption {
	return func(c *Config) { c.MaxDocumentsPerWrite = n }
}

func NewConfig(opts ...ConfigOption) *Config {
	cfg := &Config{
		Logger:               logger.NewNoopLogger(),
		MaxDocumentsPerWrite: index.MaxDocumentsPerWrite,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Index provides a SQLite based implementation of [index.Index].
type Index struct {
	stbl                 sq.StatementBuilderType
	db                   *sql.DB
	logger               logger.Logger
	dbStatsCollector     prometheus.Collector
	maxDocumentsPerWrite int
	versionReady         bool
	closed               atomic.Bool
}

// Ensures that SQLite implements the Index interface.
var _ index.Index = (*Index)(nil)

// PrepareDSN prepares a raw DSN for use with SQLite, specifying defaults for
// journal mode and busy timeout.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	// Set transaction mode to immediate if not specified
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New opens the SQLite index at uri. The schema must have been created with
// the migrate command, see IsReady.
func New(uri string, cfg *Config) (*Index, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	// IsReady reads the schema revision through goose
	if err := goose.SetDialect(engine); err != nil {
		return nil, fmt.Errorf("set sqlite dialect: %w", err)
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return &Index{
		stbl:                 sq.StatementBuilder.RunWith(db),
		db:                   db,
		logger:               cfg.Logger,
		dbStatsCollector:     collector,
		maxDocumentsPerWrite: cfg.MaxDocumentsPerWrite,
	}, nil
}

// Close see [index.Index].Close.
func (s *Index) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close sqlite index", zap.Error(err))
	}
}

// WordDocids see [index.Reader].WordDocids.
func (s *Index) WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error) {
	ctx, span := startTrace(ctx, "WordDocids")
	defer span.End()

	if s.closed.Load() {
		return nil, index.ErrClosed
	}
	return readWordDocids(ctx, s.stbl, word)
}

func readWordDocids(ctx context.Context, stbl sq.StatementBuilderType, word string) (*roaring.Bitmap, error) {
	var blob []byte
	err := stbl.
		Select("docids").
		From("word_docids").
		Where(sq.Eq{"word": word}).
		QueryRowContext(ctx).
		Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return roaring.New(), nil
	}
	if err != nil {
		return nil, HandleSQLError(err)
	}

	docids := roaring.New()
	if err := docids.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode docids of %q: %w", word, err)
	}
	return docids, nil
}

// DocumentIDs see [index.Reader].DocumentIDs.
func (s *Index) DocumentIDs(ctx context.Context) (*roaring.Bitmap, error) {
	ctx, span := startTrace(ctx, "DocumentIDs")
	defer span.End()

	if s.closed.Load() {
		return nil, index.ErrClosed
	}

	rows, err := s.stbl.
		Select("id").
		From("document").
		QueryContext(ctx)
	if err != nil {
		return nil, HandleSQLError(err)
	}
	defer rows.Close()

	ids := roaring.New()
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, HandleSQLError(err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, HandleSQLError(err)
	}
	return ids, nil
}

// Documents see [index.Reader].Documents.
func (s *Index) Documents(ctx context.Context, ids []uint32) ([]*index.Document, error) {
	ctx, span := startTrace(ctx, "Documents")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)))

	if s.closed.Load() {
		return nil, index.ErrClosed
	}
	if len(ids) == 0 {
		return []*index.Document{}, nil
	}

	rows, err := s.stbl.
		Select("id", "fields").
		From("document").
		Where(sq.Eq{"id": ids}).
		QueryContext(ctx)
	if err != nil {
		return nil, HandleSQLError(err)
	}
	defer rows.Close()

	found := make(map[uint32]*index.Document, len(ids))
	for rows.Next() {
		var (
			id     uint32
			fields string
		)
		if err := rows.Scan(&id, &fields); err != nil {
			return nil, HandleSQLError(err)
		}
		doc, err := decodeDocument(id, fields)
		if err != nil {
			return nil, err
		}
		found[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, HandleSQLError(err)
	}

	docs := make([]*index.Document, 0, len(found))
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// WriteDocuments see [index.Writer].WriteDocuments.
func (s *Index) WriteDocuments(ctx context.Context, docs []*index.Document) error {
	ctx, span := startTrace(ctx, "WriteDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) > s.maxDocumentsPerWrite {
		return fmt.Errorf("%w: %d > %d", index.ErrExceededWriteBatchLimit, len(docs), s.maxDocumentsPerWrite)
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
	}

	return s.update(ctx, func(w *wordsWriter) error {
		for _, doc := range docs {
			if err := w.remove(doc.ID); err != nil {
				return err
			}
			if err := w.insert(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDocuments see [index.Writer].DeleteDocuments.
func (s *Index) DeleteDocuments(ctx context.Context, ids []uint32) error {
	ctx, span := startTrace(ctx, "DeleteDocuments")
	defer span.End()

	return s.update(ctx, func(w *wordsWriter) error {
		for _, id := range ids {
			if err := w.remove(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// update runs fn in a transaction and then persists the word bitmaps it
// modified.
func (s *Index) update(ctx context.Context, fn func(w *wordsWriter) error) error {
	if s.closed.Load() {
		return index.ErrClosed
	}

	var txn *sql.Tx
	err := busyRetry(func() error {
		var err error
		txn, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	w := &wordsWriter{
		ctx:   ctx,
		stbl:  s.stbl.RunWith(txn),
		dirty: map[string]*roaring.Bitmap{},
	}
	if err := fn(w); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}

	err = busyRetry(func() error {
		return txn.Commit()
	})
	if err != nil {
		return HandleSQLError(err)
	}

	s.logger.Debug("sqlite index updated", zap.Int("words", len(w.dirty)))
	return nil
}

// wordsWriter accumulates the changes made to word bitmaps inside a
// transaction.
type wordsWriter struct {
	ctx   context.Context
	stbl  sq.StatementBuilderType
	dirty map[string]*roaring.Bitmap
}

func (w *wordsWriter) docids(word string) (*roaring.Bitmap, error) {
	if docids, ok := w.dirty[word]; ok {
		return docids, nil
	}
	docids, err := readWordDocids(w.ctx, w.stbl, word)
	if err != nil {
		return nil, err
	}
	w.dirty[word] = docids
	return docids, nil
}

func (w *wordsWriter) insert(doc *index.Document) error {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrInvalidDocument, err)
	}

	err = busyRetry(func() error {
		_, err := w.stbl.
			Insert("document").
			Columns("id", "fields").
			Values(doc.ID, string(fields)).
			ExecContext(w.ctx)
		return err
	})
	if err != nil {
		return HandleSQLError(err)
	}

	for _, word := range doc.DistinctWords() {
		docids, err := w.docids(word)
		if err != nil {
			return err
		}
		docids.Add(doc.ID)
	}
	return nil
}

func (w *wordsWriter) remove(id uint32) error {
	var fields string
	err := w.stbl.
		Select("fields").
		From("document").
		Where(sq.Eq{"id": id}).
		QueryRowContext(w.ctx).
		Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return HandleSQLError(err)
	}

	previous, err := decodeDocument(id, fields)
	if err != nil {
		return err
	}
	for _, word := range previous.DistinctWords() {
		docids, err := w.docids(word)
		if err != nil {
			return err
		}
		docids.Remove(id)
	}

	err = busyRetry(func() error {
		_, err := w.stbl.
			Delete("document").
			Where(sq.Eq{"id": id}).
			ExecContext(w.ctx)
		return err
	})
	if err != nil {
		return HandleSQLError(err)
	}
	return nil
}

func (w *wordsWriter) flush() error {
	for word, docids := range w.dirty {
		var err error
		if docids.IsEmpty() {
			err = busyRetry(func() error {
				_, err := w.stbl.
					Delete("word_docids").
					Where(sq.Eq{"word": word}).
					ExecContext(w.ctx)
				return err
			})
		} else {
			docids.RunOptimize()
			var blob []byte
			blob, err = docids.ToBytes()
			if err != nil {
				return fmt.Errorf("encode docids of %q: %w", word, err)
			}
			err = busyRetry(func() error {
				_, err := w.stbl.
					Insert("word_docids").
					Columns("word", "docids").
					Values(word, blob).
					Suffix("ON CONFLICT(word) DO UPDATE SET docids = excluded.docids").
					ExecContext(w.ctx)
				return err
			})
		}
		if err != nil {
			return HandleSQLError(err)
		}
	}
	return nil
}

func decodeDocument(id uint32, fields string) (*index.Document, error) {
	doc := &index.Document{ID: id}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return nil, fmt.Errorf("decode document %d: %w", id, err)
	}
	return doc, nil
}

// IsReady see [index.Index].IsReady. The index is ready once its schema is at
// least at build.MinimumSupportedIndexSchemaRevision.
func (s *Index) IsReady(ctx context.Context) (index.ReadinessStatus, error) {
	if s.closed.Load() {
		return index.ReadinessStatus{}, index.ErrClosed
	}

	if pingErr := s.db.PingContext(ctx); pingErr != nil {
		return index.ReadinessStatus{}, pingErr
	}
	if s.versionReady {
		return index.ReadinessStatus{IsReady: true}, nil
	}

	revision, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return index.ReadinessStatus{}, err
	}
	if revision < build.MinimumSupportedIndexSchemaRevision {
		return index.ReadinessStatus{
			Message: fmt.Sprintf("index requires migrations: at revision '%d', but requires '%d'. Run 'sieve migrate'.",
				revision, build.MinimumSupportedIndexSchemaRevision),
			IsReady: false,
		}, nil
	}

	s.versionReady = true
	return index.ReadinessStatus{IsReady: true}, nil
}

// HandleSQLError processes an SQL error. Constraint violations also match
// index.ErrInvalidDocument.
func HandleSQLError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xFF == sqlite3.SQLITE_CONSTRAINT {
		return sieveerrors.With(err, index.ErrInvalidDocument)
	}

	return fmt.Errorf("sql error: %w", err)
}

// SQLite will return an SQLITE_BUSY error when the database is locked rather than waiting for the lock.
// This function retries the operation up to maxRetries times before returning the error.
func busyRetry(fn func() error) error {
	const maxRetries = 10
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isBusyError(err) {
			if retries < maxRetries {
				continue
			}

			return fmt.Errorf("sqlite busy error after %d retries: %w", maxRetries, err)
		}

		return err
	}
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}
