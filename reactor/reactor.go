package reactor

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drep-project/meshvpnd/connmgr"
	"github.com/drep-project/meshvpnd/graph"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
	"github.com/drep-project/meshvpnd/routing"
	"github.com/drep-project/meshvpnd/tunnel"
)

// TickInterval is how often the reactor wakes to run connmgr's
// maintenance timers (ping/keepalive/key-expire) and MAC-table reaping,
// independent of any socket readiness — spec §4.7 "a periodic timer
// tick drives spec §4.6's connection-manager maintenance."
const TickInterval = time.Second

// Reactor owns the single goroutine that mutates mesh.World, wiring
// together package meta's dispatch table, package connmgr's dialer, and
// package routing's forwarding engine, mirroring tinc's event_loop() in
// net.c: one thread, select() over every fd, never two mutations of the
// node/edge/subnet tree running concurrently (spec §5/§7).
type Reactor struct {
	Ctx     *meta.Context
	World   *mesh.World
	Conn    *connmgr.Manager
	Routing *routing.Engine
	Graph   graph.Config
	Metrics *Metrics

	Listeners []net.Listener
	UDPConn   *net.UDPConn

	// ReplayWindowBits sizes each peer's inbound data-channel replay
	// window (spec §6 ReplayWindow option); 0 defaults to 512.
	ReplayWindowBits uint32

	events  chan dispatchEvent
	newConn chan *mesh.Connection
	dialed  chan *mesh.Connection
	termReq chan termRequest

	dirty bool

	replayWindows map[*mesh.Node]*tunnel.ReplayWindow

	wg sync.WaitGroup
}

type termRequest struct {
	c      *mesh.Connection
	reason string
}

// New wires ctx's dirty-flag and termination hooks to r before returning
// it, per SPEC_FULL.md §7's "channel-forwarding Dispatcher" design.
func New(ctx *meta.Context, w *mesh.World, conn *connmgr.Manager, engine *routing.Engine, gcfg graph.Config) *Reactor {
	r := &Reactor{
		Ctx:           ctx,
		World:         w,
		Conn:          conn,
		Routing:       engine,
		Graph:         gcfg,
		events:        make(chan dispatchEvent, 256),
		newConn:       make(chan *mesh.Connection, 16),
		dialed:        make(chan *mesh.Connection, 16),
		termReq:       make(chan termRequest, 16),
		replayWindows: make(map[*mesh.Node]*tunnel.ReplayWindow),
	}

	ctx.MarkDirty = func() { r.dirty = true }
	ctx.OnTerminate = func(c *mesh.Connection) { r.RequestTerminate(c, "TERMREQ") }
	ctx.OnTunnelPacket = func(c *mesh.Connection, payload []byte) error {
		if c.Node == nil {
			return nil
		}
		return engine.HandleInboundPacket(c.Node, payload)
	}
	if engine != nil {
		engine.UDPSend = r.sendUDP
		engine.TCPSend = r.sendTCPFallback
	}
	gcfg.ProbePMTU = func(n *mesh.Node) {
		if engine != nil {
			engine.ProbePMTU(n)
		}
	}
	r.Graph = gcfg

	return r
}

// RequestTerminate asks the reactor goroutine to tear down c. Safe to
// call from any goroutine (reader goroutines use this to report a fatal
// meta.Receive error without touching World themselves).
func (r *Reactor) RequestTerminate(c *mesh.Connection, reason string) {
	select {
	case r.termReq <- termRequest{c: c, reason: reason}:
	default:
		// Channel full: the reactor is already backed up with
		// terminations: drop, the connection's dead socket will
		// surface again on the next failed read/write anyway.
	}
}

// terminateLocked runs connmgr.Manager.Terminate from inside the reactor
// goroutine — the only place World mutation is allowed.
func (r *Reactor) terminateLocked(c *mesh.Connection, reason string) {
	if !c.State.Has(mesh.ConnActive) && c.Node == nil && c.Socket == nil {
		return // already torn down
	}
	delete(r.replayWindows, c.Node)
	r.Conn.Terminate(c, reason)
	r.dirty = true
}

// Accept registers an already-established connection (accepted or
// dialed) with the reactor: it starts that connection's reader goroutine
// and begins the handshake on the accepting side by waiting for its ID
// line, per spec §4.2.
func (r *Reactor) Accept(c *mesh.Connection) {
	r.World.AddConnection(c)
	r.startReader(c)
}

func (r *Reactor) startReader(c *mesh.Connection) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		disp := chanDispatcher{events: r.events}
		for {
			if err := meta.Receive(c, disp); err != nil {
				r.RequestTerminate(c, err.Error())
				return
			}
		}
	}()
}

// acceptLoop accepts inbound TCP connections on l and hands them to the
// reactor as fresh mesh.Connections in ConnIncoming state.
func (r *Reactor) acceptLoop(l net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		c := &mesh.Connection{Socket: conn, Hostname: conn.RemoteAddr().String()}
		c.AllowRequest = mesh.ReqID
		select {
		case r.newConn <- c:
		default:
			conn.Close()
		}
	}
}

// Run starts every I/O goroutine and then serves the reactor's main
// select loop until ctx is cancelled or a listener/OS signal requests
// shutdown. It always returns after a clean, orderly teardown.
func (r *Reactor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for _, l := range r.Listeners {
		r.wg.Add(1)
		go r.acceptLoop(l)
	}
	if r.UDPConn != nil {
		r.wg.Add(1)
		go r.udpReadLoop()
	}
	if r.Routing != nil && r.Routing.Device != nil {
		r.wg.Add(1)
		go r.tapReadLoop()
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				r.dirty = true // host configs are not re-read; SIGHUP only forces a recompute
				continue
			}
			r.shutdown()
			return nil

		case ev := <-r.events:
			r.handleDispatch(ev)
			r.maybeRecompute(ctx)

		case c := <-r.newConn:
			r.Accept(c)

		case c := <-r.dialed:
			// DialEntry already called World.AddConnection and sent
			// ID; only the reader goroutine remains to start.
			r.startReader(c)

		case req := <-r.termReq:
			r.terminateLocked(req.c, req.reason)
			r.maybeRecompute(ctx)

		case now := <-ticker.C:
			r.Conn.Tick(now)
			if r.Routing != nil {
				r.Routing.ReapMACTable(now)
			}
			r.dialDue(ctx, now)
			r.maybeRecompute(ctx)
			r.reportMetrics()
		}
	}
}

// maybeRecompute runs graph.Compute when a handled event has set the
// dirty flag since the last run. Run calls it after every event,
// termination and tick, so back-to-back ADD_EDGE/DEL_EDGE events each
// trigger their own MST+SSSP recompute; they are not coalesced.
func (r *Reactor) maybeRecompute(ctx context.Context) {
	if !r.dirty {
		return
	}
	r.dirty = false
	graph.Compute(ctx, r.World, r.Graph)
}

// dialDue launches one dial attempt per configured entry whose backoff
// has elapsed, spec §4.6's outgoing connection list. Each attempt runs
// in its own goroutine (DNS resolution and the TCP/proxy handshake both
// block); a successful dial is handed back to the reactor goroutine over
// r.dialed so only it ever registers the new connection's reader.
func (r *Reactor) dialDue(ctx context.Context, now time.Time) {
	for _, e := range r.Conn.DueEntries(now) {
		e := e
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			c, err := r.Conn.DialEntry(ctx, e)
			if err != nil {
				return
			}
			select {
			case r.dialed <- c:
			case <-ctx.Done():
			}
		}()
	}
}

func (r *Reactor) shutdown() {
	// spec §4.6: "Control connections are retained until final
	// shutdown" — only now do we tear every remaining connection down,
	// rather than as each one's meta session happens to end.
	for _, c := range r.World.Connections() {
		r.Conn.Terminate(c, "shutting down")
	}
	for _, l := range r.Listeners {
		l.Close()
	}
	if r.UDPConn != nil {
		r.UDPConn.Close()
	}
	if r.Routing != nil && r.Routing.Device != nil {
		r.Routing.Device.Close()
	}
	r.wg.Wait()
}
