package reactor

import (
	"net"

	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/tunnel"
)

// replayWindowWidth is the default inbound replay-window size (spec §6
// ReplayWindow option) used when Reactor.ReplayWindowBits is unset.
const replayWindowWidth = 512

func (r *Reactor) replayWindowFor(n *mesh.Node) *tunnel.ReplayWindow {
	w, ok := r.replayWindows[n]
	if ok {
		return w
	}
	width := r.ReplayWindowBits
	if width == 0 {
		width = replayWindowWidth
	}
	w = tunnel.NewReplayWindow(width)
	r.replayWindows[n] = w
	return w
}

// udpReadLoop reads inbound data-channel datagrams and hands a copy of
// each, with its source address, to the reactor goroutine over the same
// event channel the meta reader goroutines use — spec §4.5 "Packet I/O"
// inbound path. This goroutine only performs socket I/O; the sender
// lookup, the decode via the sender's negotiated Suite and the delivery
// into routing.Engine.HandleInboundPacket (which mutates MAC-table and
// node PMTU state) all run in handleUDPDatagram on the reactor goroutine.
func (r *Reactor) udpReadLoop() {
	defer r.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, addr, err := r.UDPConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		from := fromUDPAddr(addr)

		result := make(chan error, 1)
		r.events <- dispatchEvent{kind: eventPacket, payload: datagram, result: result, udpFrom: from, isUDPFrame: true}
		<-result
	}
}

// handleUDPDatagram decodes and routes one inbound datagram on the
// reactor goroutine, called from handleDispatch when ev.isUDPFrame is set.
func (r *Reactor) handleUDPDatagram(addr netutil.Addr, datagram []byte) {
	node, ok := r.World.NodeByUDPAddress(addr)
	if !ok || node.DataSuite == nil {
		return
	}

	codec := tunnel.Codec{Suite: node.DataSuite}
	window := r.replayWindowFor(node)
	payload, err := codec.Decode(datagram, window, node.Cipher.MACLength)
	if err != nil {
		if err == tunnel.ErrReplay && r.Metrics != nil {
			r.Metrics.ReplayRejected.Inc()
		}
		return // invalid MAC/replay/decompress failure: silently dropped, spec §4.5
	}

	if r.Routing != nil {
		_ = r.Routing.HandleInboundPacket(node, payload)
	}
}

// sendUDP implements routing.Transmit: it is wired as Engine.UDPSend so
// the routing engine can hand a plaintext payload to the reactor for
// encoding and transmission toward n's learned UDP address.
func (r *Reactor) sendUDP(n *mesh.Node, payload []byte) error {
	if n.DataSuite == nil || n.Address.IsZero() {
		return tunnel.ErrClosed
	}
	codec := tunnel.Codec{Suite: n.DataSuite}
	datagram, err := codec.Encode(payload, &n.SeqOut)
	if err != nil {
		return err
	}
	_, err = r.UDPConn.WriteToUDP(datagram, toUDPAddr(n.Address))
	return err
}

// sendTCPFallback implements routing.TCPFallback: it is wired as
// Engine.TCPSend so the routing engine can fall back to the meta-channel
// PACKET verb when via's path is indirect/TCPONLY, spec §4.4/§4.5.
func (r *Reactor) sendTCPFallback(via *mesh.Node, payload []byte) error {
	if via.Conn == nil {
		return tunnel.ErrClosed
	}
	return meta.SendPacket(r.Ctx, via.Conn, payload)
}

func fromUDPAddr(addr *net.UDPAddr) netutil.Addr {
	return netutil.Addr{IP: addr.IP, Port: addr.Port}
}

func toUDPAddr(addr netutil.Addr) *net.UDPAddr {
	return &net.UDPAddr{IP: addr.IP, Port: addr.Port}
}
