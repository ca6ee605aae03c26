// Package querygraph contains the graph representation of a search query.
//
// A QueryGraph is a directed acyclic graph going from a unique Start node to a
// unique End node. Every path between them is one way of matching the query,
// each Term node on the path being a mandatory set of word alternatives.
// Nodes live in an arena addressed by NodeID and are never physically removed:
// removing a node turns it into a Deleted tombstone so that the identifiers of
// the other nodes stay stable across mutations and clones.
package querygraph

import (
	"errors"

	"github.com/RoaringBitmap/roaring"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

var (
	ErrEmptyQuery        = errors.New("query contains no terms")
	ErrTooManyPositions  = errors.New("query contains too many positions")
	ErrInvalidTerm       = errors.New("invalid query term")
	ErrUnconnectedQuery  = errors.New("query graph has no path from start to end")
	ErrDeletedNodeInPath = errors.New("deleted node reachable in query graph")
)

// NodeID is the index of a node in the arena of a QueryGraph.
type NodeID uint32

const (
	// StartID is the identifier of the entry node of every graph.
	StartID NodeID = 0
	// EndID is the identifier of the exit node of every graph.
	EndID NodeID = 1
)

// NodeKind is the tag of a query graph node.
type NodeKind uint8

const (
	NodeDeleted NodeKind = iota
	NodeStart
	NodeEnd
	NodeTerm
)

func (k NodeKind) String() string {
	switch k {
	case NodeStart:
		return "start"
	case NodeEnd:
		return "end"
	case NodeTerm:
		return "term"
	default:
		return "deleted"
	}
}

type node struct {
	kind         NodeKind
	term         LocatedTerm
	predecessors *roaring.Bitmap
	successors   *roaring.Bitmap
}

func newNode(kind NodeKind, term LocatedTerm) *node {
	return &node{
		kind:         kind,
		term:         term,
		predecessors: roaring.New(),
		successors:   roaring.New(),
	}
}

// QueryGraph is a mutable graph of query term alternatives. It is not safe for
// concurrent use; callers hand out clones instead of sharing an instance.
type QueryGraph struct {
	nodes []*node
}

// New returns a graph containing only the Start and End nodes.
func New() *QueryGraph {
	return &QueryGraph{
		nodes: []*node{
			StartID: newNode(NodeStart, LocatedTerm{}),
			EndID:   newNode(NodeEnd, LocatedTerm{}),
		},
	}
}

// Len returns the size of the arena, tombstones included.
func (g *QueryGraph) Len() int {
	return len(g.nodes)
}

// Kind returns the kind of the node with the given id.
func (g *QueryGraph) Kind(id NodeID) NodeKind {
	if int(id) >= len(g.nodes) {
		return NodeDeleted
	}
	return g.nodes[id].kind
}

// Term returns the term carried by a Term node.
func (g *QueryGraph) Term(id NodeID) (LocatedTerm, bool) {
	if g.Kind(id) != NodeTerm {
		return LocatedTerm{}, false
	}
	return g.nodes[id].term, true
}

// Predecessors returns the ids of the nodes with an edge to id, ascending.
func (g *QueryGraph) Predecessors(id NodeID) []NodeID {
	return toNodeIDs(g.nodes[id].predecessors)
}

// Successors returns the ids of the nodes id has an edge to, ascending.
func (g *QueryGraph) Successors(id NodeID) []NodeID {
	return toNodeIDs(g.nodes[id].successors)
}

// AddTerm appends a new Term node to the arena and returns its id. The node is
// not connected to anything.
func (g *QueryGraph) AddTerm(term LocatedTerm) NodeID {
	g.nodes = append(g.nodes, newNode(NodeTerm, term))
	return NodeID(len(g.nodes) - 1)
}

// Connect adds an edge going from one node to another.
func (g *QueryGraph) Connect(from, to NodeID) {
	g.nodes[from].successors.Add(uint32(to))
	g.nodes[to].predecessors.Add(uint32(from))
}

// Disconnect removes the edge going from one node to another, if any.
func (g *QueryGraph) Disconnect(from, to NodeID) {
	g.nodes[from].successors.Remove(uint32(to))
	g.nodes[to].predecessors.Remove(uint32(from))
}

// TermNodes returns the ids of the live Term nodes, ascending.
func (g *QueryGraph) TermNodes() []NodeID {
	var ids []NodeID
	for id, n := range g.nodes {
		if n.kind == NodeTerm {
			ids = append(ids, NodeID(id))
		}
	}
	return ids
}

// Positions returns the distinct positions covered by the live Term nodes,
// ascending.
func (g *QueryGraph) Positions() []Position {
	set := treeset.NewWith(utils.Int8Comparator)
	for _, n := range g.nodes {
		if n.kind != NodeTerm {
			continue
		}
		for _, p := range n.term.Positions() {
			set.Add(int8(p))
		}
	}

	positions := make([]Position, 0, set.Size())
	for _, v := range set.Values() {
		positions = append(positions, Position(v.(int8)))
	}
	return positions
}

// Clone returns a deep copy of the graph.
func (g *QueryGraph) Clone() *QueryGraph {
	nodes := make([]*node, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = &node{
			kind:         n.kind,
			term:         n.term.clone(),
			predecessors: n.predecessors.Clone(),
			successors:   n.successors.Clone(),
		}
	}
	return &QueryGraph{nodes: nodes}
}

// Equal reports whether both graphs have the same arena, node for node.
func (g *QueryGraph) Equal(other *QueryGraph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.nodes) != len(other.nodes) {
		return false
	}
	for i, n := range g.nodes {
		o := other.nodes[i]
		if n.kind != o.kind || !n.term.equal(o.term) {
			return false
		}
		if !n.predecessors.Equals(o.predecessors) || !n.successors.Equals(o.successors) {
			return false
		}
	}
	return true
}

// RemoveNodes turns the given Term nodes into tombstones, dropping all of
// their edges. Start and End nodes are never removed.
func (g *QueryGraph) RemoveNodes(ids ...NodeID) {
	for _, id := range ids {
		if g.Kind(id) != NodeTerm {
			continue
		}
		g.detach(id)
	}
}

// RemoveNodesKeepEdges removes the given Term nodes like RemoveNodes, but first
// connects every predecessor of a removed node to every one of its successors,
// so that the paths that went through the node remain, minus the node.
func (g *QueryGraph) RemoveNodesKeepEdges(ids ...NodeID) {
	for _, id := range ids {
		if g.Kind(id) != NodeTerm {
			continue
		}
		n := g.nodes[id]
		for _, pred := range n.predecessors.ToArray() {
			for _, succ := range n.successors.ToArray() {
				if pred == uint32(id) || succ == uint32(id) {
					continue
				}
				g.Connect(NodeID(pred), NodeID(succ))
			}
		}
		g.detach(id)
	}
}

// RemoveWordsAtPosition removes every Term node starting at position,
// reconnecting its neighbours so that the paths that went through it remain.
// N-grams starting at an earlier position are kept: a path through such an
// n-gram already matched the dropped word. It reports whether any node was
// removed.
func (g *QueryGraph) RemoveWordsAtPosition(position Position) bool {
	var ids []NodeID
	for id, n := range g.nodes {
		if n.kind == NodeTerm && n.term.First == position {
			ids = append(ids, NodeID(id))
		}
	}
	if len(ids) == 0 {
		return false
	}

	g.RemoveNodesKeepEdges(ids...)
	g.Simplify()
	return true
}

// Simplify removes the Term nodes left without predecessors or successors,
// until none remain.
func (g *QueryGraph) Simplify() {
	for {
		var dangling []NodeID
		for id, n := range g.nodes {
			if n.kind != NodeTerm {
				continue
			}
			if n.predecessors.IsEmpty() || n.successors.IsEmpty() {
				dangling = append(dangling, NodeID(id))
			}
		}
		if len(dangling) == 0 {
			return
		}
		g.RemoveNodes(dangling...)
	}
}

// TopologicalOrder returns the live nodes reachable in an order where every
// node comes after all of its predecessors. Ties are broken by id.
func (g *QueryGraph) TopologicalOrder() ([]NodeID, error) {
	indegree := make([]uint64, len(g.nodes))
	var queue []NodeID
	for id, n := range g.nodes {
		if n.kind == NodeDeleted {
			continue
		}
		indegree[id] = n.predecessors.GetCardinality()
		if indegree[id] == 0 {
			queue = append(queue, NodeID(id))
		}
	}

	order := make([]NodeID, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		it := g.nodes[id].successors.Iterator()
		for it.HasNext() {
			succ := it.Next()
			if g.nodes[succ].kind == NodeDeleted {
				return nil, ErrDeletedNodeInPath
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, NodeID(succ))
			}
		}
	}
	return order, nil
}

// Paths returns every path from Start to End as a list of node ids, Start and
// End excluded. It is exponential in the worst case and meant for diagnostics
// and tests.
func (g *QueryGraph) Paths() [][]NodeID {
	var paths [][]NodeID
	var walk func(id NodeID, prefix []NodeID)
	walk = func(id NodeID, prefix []NodeID) {
		if id == EndID {
			paths = append(paths, append([]NodeID(nil), prefix...))
			return
		}
		if g.nodes[id].kind == NodeTerm {
			prefix = append(prefix, id)
		}
		for _, succ := range g.nodes[id].successors.ToArray() {
			walk(NodeID(succ), prefix)
		}
	}
	walk(StartID, nil)
	return paths
}

func (g *QueryGraph) detach(id NodeID) {
	n := g.nodes[id]
	it := n.predecessors.Iterator()
	for it.HasNext() {
		g.nodes[it.Next()].successors.Remove(uint32(id))
	}
	it = n.successors.Iterator()
	for it.HasNext() {
		g.nodes[it.Next()].predecessors.Remove(uint32(id))
	}
	n.predecessors.Clear()
	n.successors.Clear()
	n.kind = NodeDeleted
	n.term = LocatedTerm{}
}

func toNodeIDs(b *roaring.Bitmap) []NodeID {
	ids := make([]NodeID, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		ids = append(ids, NodeID(it.Next()))
	}
	return ids
}
