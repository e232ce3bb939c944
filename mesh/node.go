package mesh

import (
	"time"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/netutil"
)

// SessionState mirrors tinc's node_status_t bitfield (reachable, indirect,
// validkey, waitingforkey, sptps, mst, ...) used to drive §3's node
// lifecycle.
type SessionState uint32

const (
	StateReachable SessionState = 1 << iota
	StateIndirect
	StateValidKey
	StateWaitingForKey
	StateSPTPS
	StateVisited // not set by any package; graph.Compute tracks visited nodes in its own maps and sets
)

func (s SessionState) Has(flag SessionState) bool { return s&flag != 0 }

// SetIndirect is used by package graph to record SSSP's per-node indirect
// flag.
func (s *SessionState) SetIndirect(v bool) {
	if v {
		*s |= StateIndirect
	} else {
		*s &^= StateIndirect
	}
}

// PMTUState tracks the path-MTU probe described in spec §4.4 and tinc's
// node_t (mtuprobes, minmtu, maxmtu).
type PMTUState struct {
	Probes int
	MinMTU int
	MaxMTU int
}

// Node is a peer in the mesh, per spec §3.
type Node struct {
	Name string

	PublicKeyRSA   []byte // PEM-decoded RSA public key, out-of-scope crypto material
	PublicKeyECDSA []byte // PEM-decoded ECDSA public key (SPTPS path)

	Address  netutil.Addr // learned current UDP socket address
	Hostname string

	Options Options
	State   SessionState

	// NextHop is the first hop on the path from self to this node; a
	// direct neighbour is its own NextHop, and self's NextHop is self.
	NextHop *Node
	// Via is the last directly-reachable node on the path to this node.
	Via *Node

	Cipher      CipherConfig
	SeqOut      uint32
	SeqIn       uint32
	ReplayMask  uint64 // not used by the data path; inbound replay checks use the reactor's per-node tunnel.ReplayWindow
	PMTU        PMTUState

	Subnets Subnets
	Edges   Edges // outgoing edges from this node, weight-ordered

	Conn *Connection // meta connection to this node, if directly connected

	Weight int // configured edge weight toward this node, default 1

	// DataKeyIn/DataKeyInIV are this node's own current inbound data-
	// channel symmetric key, generated locally and advertised via
	// ANS_KEY whenever a REQ_KEY names us as the destination (spec §4.2
	// "Key distribution"). Only meaningful on Self.
	DataKeyIn   []byte
	DataKeyInIV []byte

	// DataSuite is the outbound data-channel cipher toward this node,
	// installed once its ANS_KEY (in reply to our REQ_KEY) is processed.
	// KEY_CHANGED clears it, forcing a fresh REQ_KEY on the next packet.
	DataSuite *cryptosuite.Suite
}

// CipherConfig names the negotiated symmetric cipher/MAC/compression for a
// session, per spec §4.2 METAKEY/ACK negotiation. The concrete primitives
// live in cryptosuite.Suite (see cryptosuite package);
// CipherConfig only carries the negotiated choice.
type CipherConfig struct {
	Cipher      string
	Digest      string
	MACLength   int
	Compression int
}

// NewNode creates a Node with its index-backed fields (Subnets, Edges)
// ready to use, weight defaulted to 1 per spec §3. Callers that build a
// Node outside World.Node's lazy-create path (package config, building
// World.Self before NewWorld exists to create it) must use this rather
// than a bare struct literal.
func NewNode(name string) *Node {
	return &Node{Name: name, Subnets: newSubnets(), Edges: newEdges(), Weight: 1}
}

// IsSelf reports whether n's NextHop is self. SSSP sets the local node's
// NextHop to itself and a direct neighbour's NextHop to that neighbour,
// so with the local node passed as self this holds only for self.
func (n *Node) IsSelf(self *Node) bool { return n.NextHop == self }

// ResetPMTU reinitialises path-MTU probe state, mirroring sssp_bfs()'s
// "mtuprobes=0, minmtu=0, maxmtu=MTU" reset on address change or
// unreachability transition.
func (n *Node) ResetPMTU(mtu int) {
	n.PMTU = PMTUState{MinMTU: 0, MaxMTU: mtu}
}

// InvalidateKeys clears session key validity, mirroring the reachability
// hook's "invalidate its session keys" step (graph.c: n->status.validkey
// = false; n->status.waitingforkey = false).
func (n *Node) InvalidateKeys() {
	n.State &^= StateValidKey | StateWaitingForKey
}

// NodeInfo is a JSON-serialisable summary, the Go-native replacement for
// the teacher's NodeInfo (server.go), minus its ENR field (which depended
// on the non-public github.com/drep-project/binary marshaller — see
// DESIGN.md "Dropped / not carried forward").
type NodeInfo struct {
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Reachable  bool              `json:"reachable"`
	Indirect   bool              `json:"indirect"`
	NextHop    string            `json:"nextHop,omitempty"`
	Via        string            `json:"via,omitempty"`
	Subnets    []string          `json:"subnets,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Info summarises n for status/monitoring output.
func (n *Node) Info() NodeInfo {
	info := NodeInfo{
		Name:      n.Name,
		Address:   n.Address.String(),
		Reachable: n.State.Has(StateReachable),
		Indirect:  n.State.Has(StateIndirect),
	}
	if n.NextHop != nil {
		info.NextHop = n.NextHop.Name
	}
	if n.Via != nil {
		info.Via = n.Via.Name
	}
	n.Subnets.Each(func(s *Subnet) bool {
		info.Subnets = append(info.Subnets, s.String())
		return true
	})
	return info
}

// lastSeenCutoff is a helper used by subnet MAC-learning expiry.
func lastSeenCutoff(now time.Time, ttl time.Duration) time.Time {
	return now.Add(-ttl)
}
