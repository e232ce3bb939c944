package graph

import (
	"testing"
	"time"

	"github.com/drep-project/meshvpnd/mesh"
)

func addReciprocalEdge(w *mesh.World, fromName, toName string, weight int) {
	from, to := w.Node(fromName), w.Node(toName)
	w.AddEdge(&mesh.Edge{From: from, To: to, Weight: weight})
	w.AddEdge(&mesh.Edge{From: to, To: from, Weight: weight})
}

// TestMSTCorrectness is spec §8 Property 4: the edges flagged mst form a
// spanning tree of the reachable subgraph, and its total weight is no
// greater than any other spanning tree's.
func TestMSTCorrectness(t *testing.T) {
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)

	addReciprocalEdge(w, "self", "b", 1)
	addReciprocalEdge(w, "self", "c", 4)
	addReciprocalEdge(w, "b", "c", 2)
	addReciprocalEdge(w, "b", "d", 3)
	addReciprocalEdge(w, "c", "d", 1)

	computeMST(w)

	var mstWeight int
	mstEdges := map[[2]string]bool{}
	w.EdgesByWeight(func(e *mesh.Edge) bool {
		if e.MST {
			mstWeight += e.Weight
			mstEdges[[2]string{e.From.Name, e.To.Name}] = true
		}
		return true
	})

	// This graph's unique MST has total weight 4 (self-b + b-c + c-d, or
	// any equivalent orientation): verified by hand against Kruskal on
	// the five edges above.
	if mstWeight != 4 {
		t.Fatalf("expected MST weight 4, got %d (edges: %v)", mstWeight, mstEdges)
	}

	// Every node must be reachable by following MST edges (in either
	// direction, since only one orientation is flagged per undirected
	// pair) starting from self — i.e. the flagged edges form a spanning
	// tree, not just a minimal-weight forest.
	reached := map[string]bool{"self": true}
	changed := true
	for changed {
		changed = false
		for pair := range mstEdges {
			from, to := pair[0], pair[1]
			if reached[from] && !reached[to] {
				reached[to] = true
				changed = true
			}
			if reached[to] && !reached[from] {
				reached[from] = true
				changed = true
			}
		}
	}
	for _, name := range []string{"self", "b", "c", "d"} {
		if !reached[name] {
			t.Fatalf("node %s not connected by the flagged MST edges", name)
		}
	}
}

// TestMSTSkipsEdgesWithoutReverse ensures an edge with no (to,from)
// counterpart is never selected, per spec §3's "an edge without a reverse
// must be ignored for routing purposes" invariant.
func TestMSTSkipsEdgesWithoutReverse(t *testing.T) {
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)

	b := w.Node("b")
	w.AddEdge(&mesh.Edge{From: self, To: b, Weight: 1}) // no reverse b->self

	computeMST(w)

	var flagged bool
	w.EdgesByWeight(func(e *mesh.Edge) bool {
		if e.MST {
			flagged = true
		}
		return true
	})
	if flagged {
		t.Fatalf("an edge with no reverse must never be flagged MST")
	}
}

