package mesh

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/ordered"
)

type edgeKey struct{ from, to string }

// pastRequest is one entry of the flood-dedup cache (spec §3 "Past-
// request cache"), keyed by the exact request text.
type pastRequest struct {
	Text      string
	FirstSeen time.Time
}

func pastRequestLess(a, b pastRequest) bool { return a.Text < b.Text }

// ReachabilityHook is invoked once per node whose reachable/visited state
// flips, after a graph recomputation. Package graph has already run
// hosts/<name>-{up,down}, invalidated keys, reset PMTU and updated the UDP
// index for that node before calling it; package config registers
// routing.Engine.OnReachabilityChange as the hook.
type ReachabilityHook func(n *Node, reachable bool)

// World is the single, explicit container for every index spec §3
// requires: nodes by name, edges by (from,to) and by weight, subnets by
// (owner,net) and by global key, connections, and the UDP-address index.
// Nothing here is a package-level global — every handler takes a *World
// explicitly, per SPEC_FULL.md §11 "Global mutable state".
type World struct {
	Self *Node

	nodes map[string]*Node
	edges map[edgeKey]*Edge

	// edgeWeightIndex is the global weight-ordered view Kruskal scans —
	// tinc's edge_weight_tree.
	edgeWeightIndex *ordered.Store[*Edge]

	// subnetIndex maps a subnet's global key to its owning node — spec §3
	// invariant "A Subnet appears in at most one (owner) node's subnet
	// set at a time. The global subnet index maps the subnet key ... to
	// the owning node."
	subnetIndex map[string]*Node

	// udpIndex maps a node's learned UDP address to the node, rebuilt
	// whenever SSSP observes an address change or a reachability
	// transition (tinc's node_udp_tree).
	udpIndex map[string]*Node

	connections []*Connection

	trusted mapset.Set[string] // trusted node names, teacher's srv.run() `trusted` map equivalent

	pastRequests *ordered.Store[pastRequest]

	onReachability ReachabilityHook

	PingTimeout time.Duration // governs past-request aging, spec §3
}

// NewWorld creates an empty registry rooted at self.
func NewWorld(self *Node, pingTimeout time.Duration) *World {
	w := &World{
		Self:         self,
		nodes:        make(map[string]*Node),
		edges:        make(map[edgeKey]*Edge),
		edgeWeightIndex: newEdgeWeightIndex(),
		subnetIndex:  make(map[string]*Node),
		udpIndex:     make(map[string]*Node),
		trusted:      mapset.NewSet[string](),
		pastRequests: ordered.New[pastRequest](pastRequestLess, nil),
		PingTimeout:  pingTimeout,
	}
	w.nodes[self.Name] = self
	return w
}

// OnReachabilityChange registers the hook package graph fires after each
// reachability flip.
func (w *World) OnReachabilityChange(hook ReachabilityHook) { w.onReachability = hook }

// FireReachability invokes the registered hook, if any. Called by
// package graph after SSSP.
func (w *World) FireReachability(n *Node, reachable bool) {
	if w.onReachability != nil {
		w.onReachability(n, reachable)
	}
}

// Node returns the node named name, creating it on first reference if it
// doesn't exist yet — mirrors tinc's "lookup_node() miss => new_node() +
// node_add()" pattern used throughout protocol_subnet.c/protocol.c.
func (w *World) Node(name string) *Node {
	if n, ok := w.nodes[name]; ok {
		return n
	}
	n := NewNode(name)
	w.nodes[name] = n
	return n
}

// LookupNode returns the node named name without creating it.
func (w *World) LookupNode(name string) (*Node, bool) {
	n, ok := w.nodes[name]
	return n, ok
}

// Nodes returns a snapshot of all known nodes.
func (w *World) Nodes() []*Node {
	out := make([]*Node, 0, len(w.nodes))
	for _, n := range w.nodes {
		out = append(out, n)
	}
	return out
}

// Trust marks name as a trusted node, mirroring the teacher's trusted map
// populated from ProduceNodes/AddTrustedPeer. No connection limit in this
// daemon consults the set.
func (w *World) Trust(name string)   { w.trusted.Add(name) }
func (w *World) Untrust(name string) { w.trusted.Remove(name) }
func (w *World) IsTrusted(name string) bool { return w.trusted.Contains(name) }

// AddEdge inserts e into the (from,to) index and the global weight index,
// and into From's outgoing edge set. Re-adding an edge for the same pair
// replaces the previous one (ADD_EDGE is authoritative per endpoint, spec
// §4.2 "Authority rules").
func (w *World) AddEdge(e *Edge) {
	assertf(e.From != nil && e.To != nil, "AddEdge: edge with no owner: %+v", e)
	key := edgeKey{e.From.Name, e.To.Name}
	if old, ok := w.edges[key]; ok {
		w.removeEdgeIndexes(old)
	}
	w.edges[key] = e
	w.edgeWeightIndex.Insert(e)
	e.From.Edges.add(e)
}

// RemoveEdge deletes the (from,to) edge, if present, returning it.
func (w *World) RemoveEdge(from, to *Node) (*Edge, bool) {
	key := edgeKey{from.Name, to.Name}
	e, ok := w.edges[key]
	if !ok {
		return nil, false
	}
	w.removeEdgeIndexes(e)
	return e, true
}

func (w *World) removeEdgeIndexes(e *Edge) {
	delete(w.edges, edgeKey{e.From.Name, e.To.Name})
	w.edgeWeightIndex.Delete(func(x *Edge) bool { return x == e })
	e.From.Edges.remove(e.To)
}

// EdgeBetween returns the (from,to) edge, or nil. Used to resolve
// Edge.Reverse() — the "reverse pointer" is always a fresh lookup, never
// stored, per SPEC_FULL.md §11.
func (w *World) EdgeBetween(from, to *Node) *Edge {
	e, ok := w.edges[edgeKey{from.Name, to.Name}]
	if !ok {
		return nil
	}
	return e
}

// EdgesByWeight iterates every known edge in ascending weight order —
// the input to graph.Compute's Kruskal pass.
func (w *World) EdgesByWeight(fn func(*Edge) bool) {
	w.edgeWeightIndex.Each(fn)
}

// AddSubnet registers sub under owner, updating the global subnet index.
// Returns false if an equal subnet (by Key()) is already indexed to a
// different owner, which the caller (meta.handleAddSubnet) must treat as
// a conflict per spec §3's at-most-one-owner invariant.
func (w *World) AddSubnet(owner *Node, sub *Subnet) bool {
	if existing, ok := w.subnetIndex[sub.Key()]; ok && existing != owner {
		return false
	}
	sub.Owner = owner
	owner.Subnets.add(sub)
	w.subnetIndex[sub.Key()] = owner
	return true
}

// RemoveSubnet unregisters sub from its owner and the global index.
func (w *World) RemoveSubnet(owner *Node, sub *Subnet) {
	owner.Subnets.remove(sub)
	if w.subnetIndex[sub.Key()] == owner {
		delete(w.subnetIndex, sub.Key())
	}
}

// SubnetOwner returns the node owning the subnet with the given key.
func (w *World) SubnetOwner(key string) (*Node, bool) {
	n, ok := w.subnetIndex[key]
	return n, ok
}

// IndexUDPAddress (re)indexes n under addr, replacing any previous
// mapping for n — mirrors sssp_bfs()'s avl_unlink/avl_insert dance on
// node_udp_tree when a node's observed address changes.
func (w *World) IndexUDPAddress(n *Node, addr netutil.Addr) {
	w.unindexUDPAddress(n)
	if !addr.IsZero() {
		w.udpIndex[addr.String()] = n
	}
}

func (w *World) unindexUDPAddress(n *Node) {
	for k, v := range w.udpIndex {
		if v == n {
			delete(w.udpIndex, k)
		}
	}
}

// NodeByUDPAddress resolves an inbound UDP datagram's source address to
// the node that owns it, or false if unknown (spec §4.5/§8).
func (w *World) NodeByUDPAddress(addr netutil.Addr) (*Node, bool) {
	n, ok := w.udpIndex[addr.String()]
	return n, ok
}

// AddConnection registers a live meta-session.
func (w *World) AddConnection(c *Connection) { w.connections = append(w.connections, c) }

// RemoveConnection unregisters c.
func (w *World) RemoveConnection(c *Connection) {
	for i, x := range w.connections {
		if x == c {
			w.connections = append(w.connections[:i], w.connections[i+1:]...)
			return
		}
	}
}

// Connections returns a snapshot of all live meta-sessions.
func (w *World) Connections() []*Connection {
	out := make([]*Connection, len(w.connections))
	copy(out, w.connections)
	return out
}

// ActiveConnections returns connections whose handshake has completed.
func (w *World) ActiveConnections() []*Connection {
	var out []*Connection
	for _, c := range w.connections {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// SeenRequest implements spec §4.2/§8's flood dedup: returns true (and
// records nothing further) if raw has already been seen; otherwise
// records it with the current timestamp and returns false. Mirrors tinc's
// seen_request(), which compares the exact, undecoded request line.
func (w *World) SeenRequest(raw string, now time.Time) bool {
	if _, ok := w.pastRequests.Find(func(p pastRequest) bool { return p.Text == raw }); ok {
		return true
	}
	w.pastRequests.Insert(pastRequest{Text: raw, FirstSeen: now})
	return false
}

// AgePastRequests reaps entries older than PingTimeout, mirroring tinc's
// age_past_requests(): "entries older than firstseen+pingtimeout < now
// are reaped" (spec §3, §8 Property 8).
func (w *World) AgePastRequests(now time.Time) (deleted int) {
	cutoff := now.Add(-w.PingTimeout)
	var keep []pastRequest
	w.pastRequests.Each(func(p pastRequest) bool {
		if p.FirstSeen.Before(cutoff) {
			deleted++
		} else {
			keep = append(keep, p)
		}
		return true
	})
	fresh := ordered.New[pastRequest](pastRequestLess, nil)
	for _, p := range keep {
		fresh.Insert(p)
	}
	w.pastRequests = fresh
	return deleted
}
