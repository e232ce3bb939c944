// Package routing implements the forwarding engine of spec §4.4 (C7):
// hub/switch/router delivery modes, MAC learning, subnet longest-prefix
// lookup, ARP/ND spoofing, broadcast policy, and path-MTU probing. It is
// a port of tinc's route.c (route(), age_subnets()) onto mesh.World's
// indexes and tunnel.Device/Codec.
package routing

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/ordered"
	"github.com/drep-project/meshvpnd/tunnel"
)

// Mode selects the forwarding behaviour, spec §4.4.
type Mode int

const (
	ModeHub Mode = iota
	ModeSwitch
	ModeRouter
)

// BroadcastPolicy selects how a broadcast frame is propagated to peers,
// spec §4.4 "Broadcast policy (selectable)".
type BroadcastPolicy int

const (
	BroadcastNone BroadcastPolicy = iota
	BroadcastMST
	BroadcastDirect
)

// Transmit attempts to deliver payload to n over the data channel (UDP).
// It must return tunnel.ErrFrameTooBig or an error wrapping
// syscall.EMSGSIZE when the datagram is too large, so Engine can shrink
// maxmtu per spec §4.4 point 4; the packet itself is not re-sent. Wired
// by package reactor, which owns the actual UDP socket.
type Transmit func(n *mesh.Node, payload []byte) error

// TCPFallback wraps payload in a meta PACKET frame toward via's
// connection — spec §4.4 point 2's "fall back to meta TCP (PACKET verb)
// on node.nexthop's connection".
type TCPFallback func(via *mesh.Node, payload []byte) error

// Engine is the C7 forwarding engine, one instance per daemon, owned
// exclusively by the reactor goroutine (spec §7 — no locking needed).
type Engine struct {
	World *mesh.World

	Mode      Mode
	Broadcast BroadcastPolicy

	MACExpire    time.Duration
	DecrementTTL bool

	// MaxMSS is the clamp ceiling applied to TCP SYN segments when > 0,
	// spec §4.4 "MSS is clamped if configured".
	MaxMSS uint16

	Device tunnel.Device

	// LocalMAC is used as the source address of spoofed proxy-ARP/ND
	// replies in router mode (spec §4.4).
	LocalMAC net.HardwareAddr

	UDPSend  Transmit
	TCPSend  TCPFallback

	Now func() time.Time

	mac *ordered.Store[*macEntry]
}

// NewEngine creates an Engine in the given mode, ready to learn/forward.
func NewEngine(w *mesh.World, mode Mode, broadcast BroadcastPolicy) *Engine {
	return &Engine{
		World:     w,
		Mode:      mode,
		Broadcast: broadcast,
		MACExpire: 10 * time.Minute,
		mac:       ordered.New[*macEntry](macEntryLess, nil),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// HandleLocalFrame processes a frame read from the tap device (spec
// §4.7 "the tap device fd (read → C7)"), dispatching by Mode.
func (e *Engine) HandleLocalFrame(f tunnel.Frame) error {
	switch e.Mode {
	case ModeRouter:
		return e.routeLocal(f)
	default:
		return e.switchLocal(f)
	}
}

// HandleInboundPacket processes a decoded data-channel payload arriving
// from peer (spec §4.5 "Hand to C7 for delivery to tap"), delivering it
// to the local tap device.
func (e *Engine) HandleInboundPacket(from *mesh.Node, payload []byte) error {
	if e.Mode == ModeSwitch {
		if eth, ok := parseEthernet(payload); ok {
			e.learn(eth.src, from)
		}
	}
	if e.Device == nil {
		return nil
	}
	return e.Device.WritePacket(tunnel.Frame{Data: payload})
}

// transmitToNode implements spec §4.4's per-destination transmit
// algorithm exactly: indirect/TCPONLY/via-redirection first, then UDP,
// with TCP PACKET as the final fallback if the indirect path is itself
// indirect.
func (e *Engine) transmitToNode(dst *mesh.Node, payload []byte) error {
	target := dst
	if dst.Options.Has(mesh.OptionIndirect) || dst.Options.Has(mesh.OptionTCPOnly) || dst.Via != dst {
		target = dst.Via
		if target == nil {
			return nil // no route; drop
		}
		if target.Options.Has(mesh.OptionIndirect) || target.Via != target {
			if dst.NextHop == nil || dst.NextHop.Conn == nil {
				return nil
			}
			if e.TCPSend != nil {
				return e.TCPSend(dst.NextHop, payload)
			}
			return nil
		}
	}

	if e.UDPSend == nil {
		return nil
	}
	if err := e.UDPSend(target, payload); err != nil {
		if isFragNeeded(err) {
			e.shrinkMTU(target)
			return err
		}
		return err
	}
	e.growMTU(target)
	return nil
}

func (e *Engine) shrinkMTU(n *mesh.Node) {
	if n.PMTU.MaxMTU <= n.PMTU.MinMTU+1 {
		return
	}
	mid := (n.PMTU.MinMTU + n.PMTU.MaxMTU) / 2
	if mid < n.PMTU.MinMTU {
		mid = n.PMTU.MinMTU
	}
	n.PMTU.MaxMTU = mid
}

func (e *Engine) growMTU(n *mesh.Node) {
	if n.PMTU.MinMTU < n.PMTU.MaxMTU {
		// one probe round confirmed current size; advance the floor
		// toward the current ceiling, mirroring send_mtu_probe's
		// successful-probe handling.
		n.PMTU.MinMTU = n.PMTU.MaxMTU
	}
}

// isFragNeeded reports whether err indicates the kernel/OS rejected the
// datagram as too large (EMSGSIZE or an ICMP frag-needed signal),
// matching spec §4.4 point 4: tunnel.ErrFrameTooBig, or a socket error
// such as a *net.OpError wrapping syscall.EMSGSIZE.
func isFragNeeded(err error) bool {
	return errors.Is(err, tunnel.ErrFrameTooBig) || errors.Is(err, syscall.EMSGSIZE)
}

// macEntry is one row of the switch-mode MAC learning table, spec §4.4
// "switch: MAC learning table (MAC → owning Node, with lastseen)."
type macEntry struct {
	mac     string
	owner   *mesh.Node
	learned time.Time
}

func macEntryLess(a, b *macEntry) bool { return a.mac < b.mac }

func (e *Engine) learn(mac net.HardwareAddr, owner *mesh.Node) {
	if mac == nil {
		return
	}
	key := mac.String()
	if existing, ok := e.mac.Find(func(m *macEntry) bool { return m.mac == key }); ok {
		existing.owner = owner
		existing.learned = e.now()
		return
	}
	e.mac.Insert(&macEntry{mac: key, owner: owner, learned: e.now()})
}

// LookupMAC resolves a learned MAC to its owning node (local or remote),
// per spec §4.4's switch-mode unicast lookup.
func (e *Engine) LookupMAC(mac net.HardwareAddr) (*mesh.Node, bool) {
	key := mac.String()
	entry, ok := e.mac.Find(func(m *macEntry) bool { return m.mac == key })
	if !ok {
		return nil, false
	}
	return entry.owner, true
}

// ReapMACTable expires entries whose lastseen predates MACExpire, spec
// §4.4 "Entries expire after MACExpire seconds" — called from package
// reactor's periodic tick.
func (e *Engine) ReapMACTable(now time.Time) (expired int) {
	cutoff := now.Add(-e.MACExpire)
	var stale []string
	e.mac.Each(func(m *macEntry) bool {
		if m.learned.Before(cutoff) {
			stale = append(stale, m.mac)
		}
		return true
	})
	for _, key := range stale {
		if e.mac.Delete(func(m *macEntry) bool { return m.mac == key }) {
			expired++
		}
	}
	return expired
}

// lookupRoute performs the longest-prefix-match lookup spec §4.4 router
// mode requires: "parse L3 header; look up destination by longest-prefix
// match in the subnet index (IPv4 or IPv6)." Scans every known node's
// subnet set since the subnet index is keyed for exact-match ownership
// lookups (ADD_SUBNET/DEL_SUBNET), not for LPM. A subnet owned by a node
// that is currently unreachable is skipped, mirroring the reachability
// check broadcast.go applies to neighbours — a graph recomputation that
// marks an owner unreachable must stop routing traffic toward it, not
// just stop broadcasting to it. Self always resolves its own subnets,
// since ARP/ND spoofing relies on lookupRoute regardless of whether the
// first graph pass has marked self reachable yet.
func (e *Engine) lookupRoute(ip net.IP) (*mesh.Node, *mesh.Subnet) {
	var bestNode *mesh.Node
	var best *mesh.Subnet
	for _, n := range e.World.Nodes() {
		if n != e.World.Self && !n.State.Has(mesh.StateReachable) {
			continue
		}
		n.Subnets.Each(func(s *mesh.Subnet) bool {
			if s.Family == netutil.FamilyMAC || !s.Contains(ip) {
				return true
			}
			if best == nil || s.PrefixLen() > best.PrefixLen() {
				best, bestNode = s, n
			}
			return true
		})
	}
	return bestNode, best
}

// OnReachabilityChange purges the switch-mode MAC learning table of any
// entry owned by n once n becomes unreachable — the route-cache half of
// the C6/C7 binding: a reachability transition must flush cached
// forwarding decisions, not just the subnet lookup used by router mode.
// Registered with mesh.World.OnReachabilityChange by package config.
func (e *Engine) OnReachabilityChange(n *mesh.Node, reachable bool) {
	if reachable {
		return
	}
	var stale []string
	e.mac.Each(func(m *macEntry) bool {
		if m.owner == n {
			stale = append(stale, m.mac)
		}
		return true
	})
	for _, key := range stale {
		e.mac.Delete(func(m *macEntry) bool { return m.mac == key })
	}
}

// ProbePMTU sends a small PMTU probe toward n, repeating until
// maxmtu-minmtu<=1 (spec §4.4 "Path-MTU probes"). The probe payload
// itself is caller-supplied (package reactor owns datagram framing); we
// only track the probe counter and bounds here.
func (e *Engine) ProbePMTU(n *mesh.Node) bool {
	if n.PMTU.MaxMTU-n.PMTU.MinMTU <= 1 {
		return false
	}
	n.PMTU.Probes++
	if e.UDPSend == nil {
		return false
	}
	probe := make([]byte, (n.PMTU.MinMTU+n.PMTU.MaxMTU)/2)
	err := e.UDPSend(n, probe)
	if err != nil {
		if isFragNeeded(err) {
			e.shrinkMTU(n)
		}
		return false
	}
	e.growMTU(n)
	return true
}
