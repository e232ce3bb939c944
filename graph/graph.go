package graph

import (
	"context"

	"github.com/drep-project/meshvpnd/mesh"
)

// Compute runs mst_kruskal() then sssp_bfs(), mirroring tinc's graph()
// entry point (spec §4.3: "Why recompute both trees on every topology
// change? ... O(E) recompute is trivial vs per-packet route lookups.").
// Callers (package reactor) coalesce repeated calls within one tick into
// a single Compute per SPEC_FULL.md §7's "graph dirty" flag.
func Compute(ctx context.Context, w *mesh.World, cfg Config) {
	computeMST(w)
	computeSSSP(ctx, w, cfg)
}
