package meta

import (
	"testing"

	"github.com/drep-project/meshvpnd/mesh"
)

// TestAddEdgeInstallsEdgeAndMarksDirty covers the common flooded-update
// path: a peer asserts an edge between two nodes it's entitled to name.
func TestAddEdgeInstallsEdgeAndMarksDirty(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)

	c := newTestConnection("peer")
	c.Node = w.Node("peer")

	line := floodLine(mesh.ReqAddEdge, "peer", "other", "7", "0")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	edge := w.EdgeBetween(w.Node("peer"), w.Node("other"))
	if edge == nil {
		t.Fatalf("expected an edge from peer to other to be installed")
	}
	if edge.Weight != 7 {
		t.Fatalf("expected weight 7, got %d", edge.Weight)
	}
}

// TestAddEdgeSetsConnWhenFromIsOriginatingPeer checks the Conn
// short-circuit: an edge asserted as originating from the connection's
// own node records that connection, since it is a direct neighbour link.
func TestAddEdgeSetsConnWhenFromIsOriginatingPeer(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)

	c := newTestConnection("peer")
	c.Node = w.Node("peer")

	line := floodLine(mesh.ReqAddEdge, "peer", "other", "3", "0")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	edge := w.EdgeBetween(w.Node("peer"), w.Node("other"))
	if edge == nil || edge.Conn != c {
		t.Fatalf("expected edge.Conn to be the originating connection, got %+v", edge)
	}
}

// TestAddEdgeLeavesConnNilForThirdPartyAssertion covers the flooded case
// where neither endpoint is the originating connection's own node — the
// edge is recorded, but not attributed to this connection.
func TestAddEdgeLeavesConnNilForThirdPartyAssertion(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)

	c := newTestConnection("relay")
	c.Node = w.Node("relay")

	line := floodLine(mesh.ReqAddEdge, "peer", "other", "3", "0")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	edge := w.EdgeBetween(w.Node("peer"), w.Node("other"))
	if edge == nil {
		t.Fatalf("expected the edge to be installed")
	}
	if edge.Conn != nil {
		t.Fatalf("expected edge.Conn to stay nil for a third-party assertion, got %+v", edge.Conn)
	}
}

// TestAddEdgeRejectsUnauthorisedAssertionInTunnelServerMode is spec §4.2's
// tunnel-server authority rule: a peer may only assert edges for itself
// or nodes it directly advertised.
func TestAddEdgeRejectsUnauthorisedAssertionInTunnelServerMode(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)
	ctx.TunnelServer = true

	c := newTestConnection("peer")
	c.Node = w.Node("peer")

	line := floodLine(mesh.ReqAddEdge, "stranger", "other", "3", "0")
	if err := Dispatch(ctx, c, line); err == nil {
		t.Fatalf("expected an unauthorised error for an edge asserted from an unrelated node")
	}
	if edge := w.EdgeBetween(w.Node("stranger"), w.Node("other")); edge != nil {
		t.Fatalf("expected no edge to be installed for a rejected assertion")
	}
}

// TestAddEdgeAllowsAssertionForAdvertisedNeighbour covers the second
// authorised branch: a peer may assert an edge from a node it already
// has an edge to (i.e. one it directly advertised).
func TestAddEdgeAllowsAssertionForAdvertisedNeighbour(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)
	ctx.TunnelServer = true

	c := newTestConnection("peer")
	c.Node = w.Node("peer")
	w.AddEdge(&mesh.Edge{From: c.Node, To: w.Node("neighbour"), Weight: 1})

	line := floodLine(mesh.ReqAddEdge, "neighbour", "other", "3", "0")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if edge := w.EdgeBetween(w.Node("neighbour"), w.Node("other")); edge == nil {
		t.Fatalf("expected the edge to be installed for an advertised neighbour")
	}
}

// TestDelEdgeRemovesExistingEdge covers the retraction path.
func TestDelEdgeRemovesExistingEdge(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)

	peer := w.Node("peer")
	other := w.Node("other")
	w.AddEdge(&mesh.Edge{From: peer, To: other, Weight: 5})

	c := newTestConnection("peer")
	c.Node = peer

	line := floodLine(mesh.ReqDelEdge, "peer", "other")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if edge := w.EdgeBetween(peer, other); edge != nil {
		t.Fatalf("expected the edge to be removed, still found %+v", edge)
	}
}

// TestDelEdgeOfUnknownPairIsNotAnError mirrors tinc's tolerant retraction
// semantics: deleting an edge that was never known is a no-op.
func TestDelEdgeOfUnknownPairIsNotAnError(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)

	c := newTestConnection("peer")
	c.Node = w.Node("peer")

	line := floodLine(mesh.ReqDelEdge, "peer", "other")
	if err := Dispatch(ctx, c, line); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

// TestDelEdgeRejectsUnauthorisedRetraction mirrors the tunnel-server
// authority rule for DEL_EDGE.
func TestDelEdgeRejectsUnauthorisedRetraction(t *testing.T) {
	w, self := newTestWorld(t)
	ctx := newTestContext(w, self)
	ctx.TunnelServer = true

	peer := w.Node("stranger")
	other := w.Node("other")
	w.AddEdge(&mesh.Edge{From: peer, To: other, Weight: 5})

	c := newTestConnection("peer")
	c.Node = w.Node("peer")

	line := floodLine(mesh.ReqDelEdge, "stranger", "other")
	if err := Dispatch(ctx, c, line); err == nil {
		t.Fatalf("expected an unauthorised error for a retraction from an unrelated node")
	}
	if edge := w.EdgeBetween(peer, other); edge == nil {
		t.Fatalf("expected the edge to survive a rejected retraction")
	}
}
