package search

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sievesearch/sieve/pkg/telemetry"
)

var tracer = otel.Tracer("sieve/pkg/search")

// BucketSort returns up to length document ids of universe, skipping the
// first from, ordered by the chain of ranking rules.
//
// The first rule splits universe into buckets. Every bucket holding more than
// one document is handed to the next rule, which splits it further, and so
// on. Buckets returned by the last rule, and buckets of at most one document,
// go to the results as is. Once a rule has no bucket left, the documents of
// its universe that were not part of any bucket are dropped and control
// returns to the previous rule.
//
// Every rule that was started is ended before BucketSort returns, including
// when a rule fails.
func BucketSort[Q any](
	ctx context.Context,
	sctx *SearchContext,
	rules []RankingRule[Q],
	query Q,
	universe *roaring.Bitmap,
	from, length int,
	logger SearchLogger[Q],
) (results []uint32, err error) {
	ctx, span := tracer.Start(ctx, "BucketSort")
	defer span.End()
	defer func() {
		if err != nil {
			telemetry.TraceError(span, err)
		}
		span.SetAttributes(attribute.Int("results", len(results)))
	}()

	logger.InitialQuery(query)
	logger.InitialUniverse(universe)

	results = []uint32{}
	if length <= 0 || universe.GetCardinality() <= uint64(from) {
		return results, nil
	}

	if len(rules) == 0 {
		results = page(universe, from, length)
		logger.AddToResults(results)
		return results, nil
	}

	s := &bucketSorter[Q]{
		ctx:       ctx,
		sctx:      sctx,
		rules:     rules,
		universes: make([]*roaring.Bitmap, len(rules)),
		logger:    logger,
		from:      from,
		length:    length,
		results:   results,
	}
	defer s.endAll()

	s.universes[0] = universe.Clone()
	if err := s.start(0, query, universe); err != nil {
		return nil, err
	}

	for len(s.results) < length && s.cur >= 0 {
		cur := s.cur
		if s.universes[cur].GetCardinality() <= 1 {
			s.addToResults(s.universes[cur])
			s.universes[cur].Clear()
			s.back()
			continue
		}

		bucket, err := rules[cur].NextBucket(ctx, sctx, logger, s.universes[cur])
		if err != nil {
			return nil, err
		}
		if bucket == nil {
			s.back()
			continue
		}

		logger.NextBucketRankingRule(cur, rules[cur], s.universes[cur], bucket.Candidates)

		Require(roaring.AndNot(bucket.Candidates, s.universes[cur]).IsEmpty(), rules[cur].ID(), "bucket is not a subset of its universe")
		s.universes[cur].AndNot(bucket.Candidates)

		if cur == len(rules)-1 ||
			bucket.Candidates.GetCardinality() <= 1 ||
			s.offset+int(bucket.Candidates.GetCardinality()) <= from {
			s.addToResults(bucket.Candidates)
			continue
		}

		s.universes[cur+1] = bucket.Candidates.Clone()
		if err := s.start(cur+1, bucket.Query, bucket.Candidates); err != nil {
			return nil, err
		}
	}

	return s.results, nil
}

type bucketSorter[Q any] struct {
	ctx       context.Context
	sctx      *SearchContext
	rules     []RankingRule[Q]
	universes []*roaring.Bitmap
	logger    SearchLogger[Q]

	// cur is the index of the rule being iterated, -1 once the first rule
	// is exhausted.
	cur int
	// started is the number of rules currently iterating.
	started int

	from, length int
	// offset is the number of documents skipped or added to the results.
	offset  int
	results []uint32
}

func (s *bucketSorter[Q]) start(idx int, query Q, universe *roaring.Bitmap) error {
	s.cur = idx
	s.logger.StartIterationRankingRule(idx, s.rules[idx], query, s.universes[idx])
	s.started = idx + 1
	return s.rules[idx].StartIteration(s.ctx, s.sctx, s.logger, universe, query)
}

// back ends the current rule and returns control to the previous one.
func (s *bucketSorter[Q]) back() {
	cur := s.cur
	s.logger.EndIterationRankingRule(cur, s.rules[cur], s.universes[cur])
	s.universes[cur].Clear()
	s.rules[cur].EndIteration(s.ctx, s.sctx, s.logger)
	s.started = cur
	s.cur--
}

// endAll ends the rules still iterating, innermost first.
func (s *bucketSorter[Q]) endAll() {
	for s.started > 0 {
		s.cur = s.started - 1
		s.back()
	}
}

func (s *bucketSorter[Q]) addToResults(candidates *roaring.Bitmap) {
	n := int(candidates.GetCardinality())
	if n == 0 {
		return
	}
	defer func() { s.offset += n }()

	skip := 0
	if s.offset < s.from {
		skip = s.from - s.offset
		if skip >= n {
			return
		}
	}

	added := page(candidates, skip, s.length-len(s.results))
	s.logger.AddToResults(added)
	s.results = append(s.results, added...)
}

// page returns at most length ids of bitmap, skipping the first from.
func page(bitmap *roaring.Bitmap, from, length int) []uint32 {
	ids := make([]uint32, 0, min(length, int(bitmap.GetCardinality())))
	it := bitmap.Iterator()
	for i := 0; it.HasNext() && len(ids) < length; i++ {
		id := it.Next()
		if i >= from {
			ids = append(ids, id)
		}
	}
	return ids
}
