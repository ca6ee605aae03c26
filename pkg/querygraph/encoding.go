package querygraph

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// AppendBinary appends a canonical encoding of the graph to buf. Two graphs
// have the same encoding if and only if they are Equal, which makes it usable
// as a cache key once hashed.
func (g *QueryGraph) AppendBinary(buf []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(g.nodes)))
	for _, n := range g.nodes {
		buf = append(buf, byte(n.kind))
		if n.kind == NodeTerm {
			buf = append(buf, byte(n.term.First), byte(n.term.Last))
			buf = binary.AppendUvarint(buf, uint64(len(n.term.Words)))
			for _, w := range n.term.Words {
				buf = binary.AppendUvarint(buf, uint64(len(w)))
				buf = append(buf, w...)
			}
		}
		buf = binary.AppendUvarint(buf, n.successors.GetCardinality())
		it := n.successors.Iterator()
		for it.HasNext() {
			buf = binary.AppendUvarint(buf, uint64(it.Next()))
		}
	}
	return buf
}

// Describe returns a short human readable description of a node.
func (g *QueryGraph) Describe(id NodeID) string {
	switch g.Kind(id) {
	case NodeStart:
		return "START"
	case NodeEnd:
		return "END"
	case NodeTerm:
		return g.nodes[id].term.String()
	default:
		return "DELETED"
	}
}

// PathStrings renders every Start to End path as the space separated
// descriptions of its Term nodes.
func (g *QueryGraph) PathStrings() []string {
	paths := g.Paths()
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		parts := make([]string, 0, len(path))
		for _, id := range path {
			parts = append(parts, g.Describe(id))
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out
}

// Graphviz renders the live part of the graph in the DOT language.
func (g *QueryGraph) Graphviz() string {
	var sb strings.Builder
	sb.WriteString("digraph query_graph {\n")
	for id, n := range g.nodes {
		if n.kind == NodeDeleted {
			continue
		}
		fmt.Fprintf(&sb, "  %d [label=%s];\n", id, strconv.Quote(g.Describe(NodeID(id))))
	}
	for id, n := range g.nodes {
		it := n.successors.Iterator()
		for it.HasNext() {
			fmt.Fprintf(&sb, "  %d -> %d;\n", id, it.Next())
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String implements fmt.Stringer.
func (g *QueryGraph) String() string {
	return strings.Join(g.PathStrings(), " OR ")
}
