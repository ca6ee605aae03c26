package index

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/pkg/logger"
)

var tracer = otel.Tracer("sieve/pkg/index")

// LoadOptions configures LoadJSONLines.
type LoadOptions struct {
	// IDField is the gjson path of the numeric document id.
	IDField string

	// Fields are the gjson paths of the searchable fields. Empty means every
	// top level string value except the id.
	Fields []string

	// BatchSize is the number of documents per WriteDocuments call.
	BatchSize int

	Logger logger.Logger
}

func (o *LoadOptions) withDefaults() LoadOptions {
	out := *o
	if out.IDField == "" {
		out.IDField = "id"
	}
	if out.BatchSize <= 0 || out.BatchSize > MaxDocumentsPerWrite {
		out.BatchSize = MaxDocumentsPerWrite
	}
	if out.Logger == nil {
		out.Logger = logger.NewNoopLogger()
	}
	return out
}

// LoadJSONLines reads one JSON object per line from r and writes them to w in
// batches. Blank lines are skipped. It returns the number of documents
// written; a malformed line aborts the load with an ErrInvalidDocument error
// naming the line.
func LoadJSONLines(ctx context.Context, r io.Reader, w Writer, opts LoadOptions) (int, error) {
	ctx, span := tracer.Start(ctx, "index.LoadJSONLines")
	defer span.End()

	opts = opts.withDefaults()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		batch   []*Document
		written int
		line    int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.WriteDocuments(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		opts.Logger.Debug("wrote document batch", zap.Int("size", len(batch)), zap.Int("total", written))
		batch = nil
		return nil
	}

	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		doc, err := parseDocument(raw, opts)
		if err != nil {
			return written, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, doc)

		if len(batch) == opts.BatchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("read documents: %w", err)
	}
	if err := flush(); err != nil {
		return written, err
	}

	span.SetAttributes(attribute.Int("documents", written))
	return written, nil
}

func parseDocument(raw string, opts LoadOptions) (*Document, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidDocument)
	}

	id := gjson.Get(raw, opts.IDField)
	if id.Type != gjson.Number || id.Num < 0 || id.Num != float64(uint32(id.Num)) {
		return nil, fmt.Errorf("%w: %q must be an unsigned 32 bit integer", ErrInvalidDocument, opts.IDField)
	}

	doc := &Document{ID: uint32(id.Uint()), Fields: map[string]string{}}
	if len(opts.Fields) == 0 {
		gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
			if key.String() != opts.IDField && value.Type == gjson.String {
				doc.Fields[key.String()] = value.String()
			}
			return true
		})
	} else {
		for _, field := range opts.Fields {
			if value := gjson.Get(raw, field); value.Exists() {
				doc.Fields[field] = value.String()
			}
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
