package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drep-project/meshvpnd/connmgr"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
	"github.com/drep-project/meshvpnd/tunnel"
)

func newTestReactor(t *testing.T) (*Reactor, *mesh.World) {
	t.Helper()
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)
	ctx := &meta.Context{World: w, Self: self, MaxOutputBufferSize: meta.DefaultMaxOutputBufferSize}
	r := &Reactor{
		Ctx:           ctx,
		World:         w,
		Conn:          connmgr.NewManager(w, ctx),
		events:        make(chan dispatchEvent, 16),
		replayWindows: make(map[*mesh.Node]*tunnel.ReplayWindow),
	}
	return r, w
}

// TestHandleDispatchLineFlushesReply exercises the reactor's own dispatch
// path (not meta.Dispatch directly): a PING line dispatched through
// handleDispatch must produce a flushed PONG on the connection's socket,
// per spec §4.1's "handlers mutate World on the reactor goroutine, then
// flush."
func TestHandleDispatchLineFlushesReply(t *testing.T) {
	r, w := newTestReactor(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &mesh.Connection{Socket: server, AllowRequest: mesh.RequestALL, State: mesh.ConnActive}
	w.AddConnection(c)

	result := make(chan error, 1)
	go func() {
		r.handleDispatch(dispatchEvent{c: c, kind: eventLine, line: "8", result: result}) // PING == 8
	}()

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading flushed reply: %v", err)
	}
	if got := string(buf[:n]); got != "9\n" { // PONG == 9
		t.Fatalf("expected flushed PONG line %q, got %q", "9\n", got)
	}
	if dispatchErr := <-result; dispatchErr != nil {
		t.Fatalf("handleDispatch reported an error: %v", dispatchErr)
	}
}

// TestHandleDispatchLineErrorTerminates ensures a handler error reaches
// terminateLocked rather than being swallowed.
func TestHandleDispatchLineErrorTerminates(t *testing.T) {
	r, w := newTestReactor(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &mesh.Connection{Socket: server, AllowRequest: mesh.ReqID, State: mesh.ConnActive}
	w.AddConnection(c)

	result := make(chan error, 1)
	r.handleDispatch(dispatchEvent{c: c, kind: eventLine, line: "not a number", result: result})

	if err := <-result; err == nil {
		t.Fatalf("expected a malformed ID line to produce a dispatch error")
	}
	if len(w.Connections()) != 0 {
		t.Fatalf("a fatal dispatch error must terminate and deregister the connection")
	}
}

// TestReportMetricsCountsActiveConnections is a smoke test of
// reportMetrics against a small, hand-built World.
func TestReportMetricsCountsActiveConnections(t *testing.T) {
	r, w := newTestReactor(t)
	r.Metrics = NewMetrics()

	active := &mesh.Connection{State: mesh.ConnActive}
	inactive := &mesh.Connection{}
	w.AddConnection(active)
	w.AddConnection(inactive)

	peer := w.Node("peer")
	peer.State |= mesh.StateReachable
	peer.PMTU.MaxMTU = 1400

	r.reportMetrics()

	if got := testutil.ToFloat64(r.Metrics.PeersConnected); got != 1 {
		t.Fatalf("expected 1 active connection counted, got %v", got)
	}
	if got := testutil.ToFloat64(r.Metrics.NodesReachable); got != 1 {
		t.Fatalf("expected 1 reachable node counted (self excluded by construction), got %v", got)
	}
}
