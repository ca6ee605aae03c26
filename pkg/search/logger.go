package search

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/pkg/logger"
)

// SearchLogger receives the events of a bucket sort. Implementations must not
// influence the search: every method is fire and forget.
type SearchLogger[Q any] interface {
	InitialQuery(query Q)
	InitialUniverse(universe *roaring.Bitmap)
	StartIterationRankingRule(ruleIdx int, rule RankingRule[Q], query Q, universe *roaring.Bitmap)
	NextBucketRankingRule(ruleIdx int, rule RankingRule[Q], universe, candidates *roaring.Bitmap)
	EndIterationRankingRule(ruleIdx int, rule RankingRule[Q], universe *roaring.Bitmap)
	AddToResults(docids []uint32)

	// LogWordsState receives the query a words rule is about to resolve.
	LogWordsState(query Q)
}

// NoopLogger ignores every event.
type NoopLogger[Q any] struct{}

var _ SearchLogger[any] = NoopLogger[any]{}

func (NoopLogger[Q]) InitialQuery(Q)                                                              {}
func (NoopLogger[Q]) InitialUniverse(*roaring.Bitmap)                                             {}
func (NoopLogger[Q]) StartIterationRankingRule(int, RankingRule[Q], Q, *roaring.Bitmap)           {}
func (NoopLogger[Q]) NextBucketRankingRule(int, RankingRule[Q], *roaring.Bitmap, *roaring.Bitmap) {}
func (NoopLogger[Q]) EndIterationRankingRule(int, RankingRule[Q], *roaring.Bitmap)                {}
func (NoopLogger[Q]) AddToResults([]uint32)                                                       {}
func (NoopLogger[Q]) LogWordsState(Q)                                                             {}

// ZapSearchLogger writes every event at debug level.
type ZapSearchLogger[Q any] struct {
	logger logger.Logger
}

var _ SearchLogger[any] = (*ZapSearchLogger[any])(nil)

func NewZapSearchLogger[Q any](l logger.Logger) *ZapSearchLogger[Q] {
	return &ZapSearchLogger[Q]{logger: l}
}

func (z *ZapSearchLogger[Q]) InitialQuery(query Q) {
	z.logger.Debug("initial query", zap.String("query", describe(query)))
}

func (z *ZapSearchLogger[Q]) InitialUniverse(universe *roaring.Bitmap) {
	z.logger.Debug("initial universe", zap.Uint64("universe", universe.GetCardinality()))
}

func (z *ZapSearchLogger[Q]) StartIterationRankingRule(ruleIdx int, rule RankingRule[Q], query Q, universe *roaring.Bitmap) {
	z.logger.Debug("start iteration",
		zap.Int("rule_idx", ruleIdx),
		zap.String("rule", rule.ID()),
		zap.String("query", describe(query)),
		zap.Uint64("universe", universe.GetCardinality()),
	)
}

func (z *ZapSearchLogger[Q]) NextBucketRankingRule(ruleIdx int, rule RankingRule[Q], universe, candidates *roaring.Bitmap) {
	z.logger.Debug("next bucket",
		zap.Int("rule_idx", ruleIdx),
		zap.String("rule", rule.ID()),
		zap.Uint64("universe", universe.GetCardinality()),
		zap.Uint64("candidates", candidates.GetCardinality()),
	)
}

func (z *ZapSearchLogger[Q]) EndIterationRankingRule(ruleIdx int, rule RankingRule[Q], universe *roaring.Bitmap) {
	z.logger.Debug("end iteration",
		zap.Int("rule_idx", ruleIdx),
		zap.String("rule", rule.ID()),
		zap.Uint64("universe", universe.GetCardinality()),
	)
}

func (z *ZapSearchLogger[Q]) AddToResults(docids []uint32) {
	z.logger.Debug("add to results", zap.Uint32s("docids", docids))
}

func (z *ZapSearchLogger[Q]) LogWordsState(query Q) {
	z.logger.Debug("words state", zap.String("query", describe(query)))
}

// EventKind tags the events recorded by a DetailedLogger.
type EventKind string

const (
	EventInitialQuery    EventKind = "initial_query"
	EventInitialUniverse EventKind = "initial_universe"
	EventStartIteration  EventKind = "start_iteration"
	EventNextBucket      EventKind = "next_bucket"
	EventEndIteration    EventKind = "end_iteration"
	EventAddToResults    EventKind = "add_to_results"
	EventWordsState      EventKind = "words_state"
)

// Event is a search event as recorded by a DetailedLogger. Fields that do not
// apply to an event kind are left empty.
type Event struct {
	Kind       EventKind `json:"kind"`
	RuleIdx    int       `json:"rule_idx,omitempty"`
	Rule       string    `json:"rule,omitempty"`
	Query      string    `json:"query,omitempty"`
	Universe   uint64    `json:"universe,omitempty"`
	Candidates uint64    `json:"candidates,omitempty"`
	Docids     []uint32  `json:"docids,omitempty"`
}

// DetailedLogger records every event in memory, to explain how a search
// reached its results.
type DetailedLogger[Q any] struct {
	events []Event
}

var _ SearchLogger[any] = (*DetailedLogger[any])(nil)

func NewDetailedLogger[Q any]() *DetailedLogger[Q] {
	return &DetailedLogger[Q]{}
}

// Events returns the events recorded so far, oldest first.
func (d *DetailedLogger[Q]) Events() []Event {
	return d.events
}

// Buckets returns the next_bucket events, in the order they were produced.
func (d *DetailedLogger[Q]) Buckets() []Event {
	var buckets []Event
	for _, e := range d.events {
		if e.Kind == EventNextBucket {
			buckets = append(buckets, e)
		}
	}
	return buckets
}

func (d *DetailedLogger[Q]) InitialQuery(query Q) {
	d.events = append(d.events, Event{Kind: EventInitialQuery, Query: describe(query)})
}

func (d *DetailedLogger[Q]) InitialUniverse(universe *roaring.Bitmap) {
	d.events = append(d.events, Event{Kind: EventInitialUniverse, Universe: universe.GetCardinality()})
}

func (d *DetailedLogger[Q]) StartIterationRankingRule(ruleIdx int, rule RankingRule[Q], query Q, universe *roaring.Bitmap) {
	d.events = append(d.events, Event{
		Kind:     EventStartIteration,
		RuleIdx:  ruleIdx,
		Rule:     rule.ID(),
		Query:    describe(query),
		Universe: universe.GetCardinality(),
	})
}

func (d *DetailedLogger[Q]) NextBucketRankingRule(ruleIdx int, rule RankingRule[Q], universe, candidates *roaring.Bitmap) {
	d.events = append(d.events, Event{
		Kind:       EventNextBucket,
		RuleIdx:    ruleIdx,
		Rule:       rule.ID(),
		Query:      d.lastWordsState(),
		Universe:   universe.GetCardinality(),
		Candidates: candidates.GetCardinality(),
	})
}

func (d *DetailedLogger[Q]) EndIterationRankingRule(ruleIdx int, rule RankingRule[Q], universe *roaring.Bitmap) {
	d.events = append(d.events, Event{
		Kind:     EventEndIteration,
		RuleIdx:  ruleIdx,
		Rule:     rule.ID(),
		Universe: universe.GetCardinality(),
	})
}

func (d *DetailedLogger[Q]) AddToResults(docids []uint32) {
	d.events = append(d.events, Event{Kind: EventAddToResults, Docids: append([]uint32(nil), docids...)})
}

func (d *DetailedLogger[Q]) LogWordsState(query Q) {
	d.events = append(d.events, Event{Kind: EventWordsState, Query: describe(query)})
}

// lastWordsState returns the query of the latest words_state event, which is
// the query the bucket being logged was computed from.
func (d *DetailedLogger[Q]) lastWordsState() string {
	for i := len(d.events) - 1; i >= 0; i-- {
		switch d.events[i].Kind {
		case EventWordsState:
			return d.events[i].Query
		case EventNextBucket:
			return ""
		}
	}
	return ""
}

// teeLogger forwards every event to several loggers.
type teeLogger[Q any] []SearchLogger[Q]

// Tee returns a SearchLogger forwarding every event to all of the loggers.
func Tee[Q any](loggers ...SearchLogger[Q]) SearchLogger[Q] {
	return teeLogger[Q](loggers)
}

func (t teeLogger[Q]) InitialQuery(query Q) {
	for _, l := range t {
		l.InitialQuery(query)
	}
}

func (t teeLogger[Q]) InitialUniverse(universe *roaring.Bitmap) {
	for _, l := range t {
		l.InitialUniverse(universe)
	}
}

func (t teeLogger[Q]) StartIterationRankingRule(ruleIdx int, rule RankingRule[Q], query Q, universe *roaring.Bitmap) {
	for _, l := range t {
		l.StartIterationRankingRule(ruleIdx, rule, query, universe)
	}
}

func (t teeLogger[Q]) NextBucketRankingRule(ruleIdx int, rule RankingRule[Q], universe, candidates *roaring.Bitmap) {
	for _, l := range t {
		l.NextBucketRankingRule(ruleIdx, rule, universe, candidates)
	}
}

func (t teeLogger[Q]) EndIterationRankingRule(ruleIdx int, rule RankingRule[Q], universe *roaring.Bitmap) {
	for _, l := range t {
		l.EndIterationRankingRule(ruleIdx, rule, universe)
	}
}

func (t teeLogger[Q]) AddToResults(docids []uint32) {
	for _, l := range t {
		l.AddToResults(docids)
	}
}

func (t teeLogger[Q]) LogWordsState(query Q) {
	for _, l := range t {
		l.LogWordsState(query)
	}
}

func describe(query any) string {
	if s, ok := query.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", query)
}
