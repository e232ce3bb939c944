package routing

import (
	"github.com/drep-project/meshvpnd/graph"
	"github.com/drep-project/meshvpnd/mesh"
)

// broadcastFrame delivers payload to other reachable peers per the
// configured BroadcastPolicy (spec §4.4). exclude, if non-nil, is a
// connection the frame arrived on and must not be echoed back to
// (mirrors route.c's "don't send it back where it came from").
func (e *Engine) broadcastFrame(payload []byte, exclude *mesh.Connection) error {
	switch e.Broadcast {
	case BroadcastNone:
		return nil
	case BroadcastDirect:
		return e.broadcastDirect(payload, exclude)
	default: // BroadcastMST
		return e.broadcastMST(payload, exclude)
	}
}

// broadcastMST forwards only to neighbours whose advertising connection
// is part of the current broadcast spanning tree, spec §4.4
// "mst (forward only to neighbours whose connection has mst=true)".
func (e *Engine) broadcastMST(payload []byte, exclude *mesh.Connection) error {
	var firstErr error
	for _, c := range e.World.ActiveConnections() {
		if c == exclude || !graph.IsConnectionOnTree(c) {
			continue
		}
		if c.Node == nil {
			continue
		}
		if err := e.transmitToNode(c.Node, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// broadcastDirect unicasts individually to each reachable peer, spec
// §4.4 "direct (unicast individually to each reachable peer)".
func (e *Engine) broadcastDirect(payload []byte, exclude *mesh.Connection) error {
	var firstErr error
	for _, n := range e.World.Nodes() {
		if n == e.World.Self || !n.State.Has(mesh.StateReachable) {
			continue
		}
		if exclude != nil && n == exclude.Node {
			continue
		}
		if err := e.transmitToNode(n, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
