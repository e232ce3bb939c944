package mesh

import (
	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/ordered"
)

// Edge is an ordered pair (From,To) with a metric weight, per spec §3.
// Reverse is resolved by lookup at indexing time (World.edgesByPair), not
// stored as an ownership pointer — see SPEC_FULL.md §11 / DESIGN NOTES.
type Edge struct {
	From, To *Node
	Weight   int
	Address  netutil.Addr // observed address of To as seen by From
	Options  Options

	// Conn is the meta connection that advertised this edge, if any
	// (nil for edges learned purely from ADD_EDGE floods).
	Conn *Connection

	// MST is set by graph.Compute after each recomputation; it is a
	// scratch field per spec §4.3, not an input.
	MST bool
}

// Reverse looks up the (To,From) counterpart of e in w, or nil if it
// doesn't exist yet. An edge without a reverse must be ignored for
// routing purposes per spec §3 invariant.
func (e *Edge) Reverse(w *World) *Edge {
	return w.EdgeBetween(e.To, e.From)
}

func edgeLess(a, b *Edge) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	if a.From.Name != b.From.Name {
		return a.From.Name < b.From.Name
	}
	return a.To.Name < b.To.Name
}

// newEdgeWeightIndex creates the weight-ordered store Kruskal scans,
// mirroring tinc's edge_weight_tree.
func newEdgeWeightIndex() *ordered.Store[*Edge] {
	return ordered.New[*Edge](edgeLess, nil)
}

// Edges is the weight-ordered set of edges outgoing from one node
// (node.edge_tree in tinc), used by sssp_bfs's per-node edge scan.
type Edges struct {
	store *ordered.Store[*Edge]
}

func newEdges() Edges {
	return Edges{store: ordered.New[*Edge](edgeLess, nil)}
}

func (e *Edges) add(edge *Edge)   { e.store.Insert(edge) }
func (e *Edges) remove(to *Node) bool {
	return e.store.Delete(func(x *Edge) bool { return x.To == to })
}

// Each iterates outgoing edges in weight order.
func (e Edges) Each(fn func(*Edge) bool) {
	if e.store == nil {
		return
	}
	e.store.Each(fn)
}

func (e Edges) Len() int {
	if e.store == nil {
		return 0
	}
	return e.store.Len()
}
