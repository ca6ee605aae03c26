// Package search contains the bucket sort pipeline of sieve. A query graph is
// handed to a chain of ranking rules, each one splitting the candidates it
// receives into ordered buckets that the next rule refines further.
package search

//go:generate mockgen -source search.go -destination ./mocks/mock_search.go -package mocks GraphResolver

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/sievesearch/sieve/pkg/querygraph"
)

// RankingRuleOutput is a bucket: the query that selected the candidates along
// with the candidates themselves.
type RankingRuleOutput[Q any] struct {
	Query      Q
	Candidates *roaring.Bitmap
}

// RankingRule is a stage of the bucket sort. For every query, the orchestrator
// calls StartIteration once, NextBucket until it returns a nil output, then
// EndIteration. A rule instance serves one query at a time.
type RankingRule[Q any] interface {
	// ID identifies the rule in logs.
	ID() string

	// StartIteration prepares the rule to split parentCandidates, which were
	// selected by parentQuery.
	StartIteration(ctx context.Context, sctx *SearchContext, logger SearchLogger[Q], parentCandidates *roaring.Bitmap, parentQuery Q) error

	// NextBucket returns the next bucket of the rule restricted to universe,
	// or nil once the rule has no bucket left. The universe holds at least two
	// documents.
	NextBucket(ctx context.Context, sctx *SearchContext, logger SearchLogger[Q], universe *roaring.Bitmap) (*RankingRuleOutput[Q], error)

	// EndIteration releases the state built for the current query. Ending a
	// rule that is not iterating does nothing.
	EndIteration(ctx context.Context, sctx *SearchContext, logger SearchLogger[Q])
}

// GraphResolver computes the documents matching a query graph.
type GraphResolver interface {
	// ResolveQueryGraph returns the subset of universe matching at least one
	// path of graph. The result is owned by the caller and must only depend
	// on the graph, the universe and the index.
	ResolveQueryGraph(ctx context.Context, sctx *SearchContext, graph *querygraph.QueryGraph, universe *roaring.Bitmap) (*roaring.Bitmap, error)
}

// ContractViolationError is the panic value raised when a ranking rule is
// driven out of protocol order. It signals a bug in the caller.
type ContractViolationError struct {
	Rule   string
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("ranking rule %q: contract violation: %s", e.Rule, e.Reason)
}

// Require panics with a ContractViolationError if cond is false.
func Require(cond bool, rule, reason string) {
	if !cond {
		panic(&ContractViolationError{Rule: rule, Reason: reason})
	}
}
