package reactor

import (
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/tunnel"
)

// eventKind distinguishes the two frame types meta.Receive extracts.
type eventKind int

const (
	eventLine eventKind = iota
	eventPacket
)

// dispatchEvent carries one fully-framed line or PACKET payload from a
// connection's reader goroutine to the reactor's single serializing
// goroutine, along with a result channel so the reader can block for the
// dispatch outcome exactly as meta.Receive's inline call would have
// returned it synchronously. This is what lets every per-connection
// goroutine stay "raw I/O only": framing (buffering, finding '\n',
// counting TCPLen bytes) happens in the reader goroutine since it only
// touches that connection's own InBuf/TCPLen, but the actual
// meta.Dispatch call — which mutates the shared mesh.World — always
// happens inside Reactor.run.
type dispatchEvent struct {
	c       *mesh.Connection
	kind    eventKind
	line    string
	payload []byte
	result  chan error

	// udpFrom is set instead of c when this event is an inbound UDP
	// data-channel datagram rather than a meta-connection frame; see
	// udp.go's udpReadLoop.
	udpFrom    netutil.Addr
	isUDPFrame bool

	// isLocalFrame is set instead of c for a frame read from the local
	// tap device; see tap.go's tapReadLoop.
	isLocalFrame bool
	priority     uint32
}

// chanDispatcher implements meta.Dispatcher by forwarding each frame to
// the reactor's event channel and blocking for the result, preserving
// meta.Receive's contract that a handler error aborts further frame
// processing within that Read() before the next frame is parsed.
type chanDispatcher struct {
	events chan<- dispatchEvent
}

func (d chanDispatcher) DispatchLine(c *mesh.Connection, line string) error {
	result := make(chan error, 1)
	d.events <- dispatchEvent{c: c, kind: eventLine, line: line, result: result}
	return <-result
}

func (d chanDispatcher) DispatchPacket(c *mesh.Connection, payload []byte) error {
	result := make(chan error, 1)
	d.events <- dispatchEvent{c: c, kind: eventPacket, payload: payload, result: result}
	return <-result
}

// handleDispatch runs the actual dispatch on the reactor goroutine via the
// shared meta.Driver, then reports the outcome back to the blocked
// reader goroutine.
func (r *Reactor) handleDispatch(ev dispatchEvent) {
	if ev.isUDPFrame {
		r.handleUDPDatagram(ev.udpFrom, ev.payload)
		ev.result <- nil
		return
	}
	if ev.isLocalFrame {
		r.handleLocalFrame(tunnel.Frame{Priority: ev.priority, Data: ev.payload})
		ev.result <- nil
		return
	}

	driver := meta.Driver{Ctx: r.Ctx}
	var err error
	if ev.kind == eventLine {
		err = driver.DispatchLine(ev.c, ev.line)
	} else {
		err = driver.DispatchPacket(ev.c, ev.payload)
	}
	ev.result <- err

	if err != nil {
		r.terminateLocked(ev.c, err.Error())
		return
	}
	if err := meta.Flush(ev.c); err != nil {
		r.terminateLocked(ev.c, "flush: "+err.Error())
	}
}
