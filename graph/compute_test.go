package graph

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/drep-project/meshvpnd/internal/scripts"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/netutil"
)

// TestComputeRunsMSTThenSSSP is an integration check that Compute wires
// both passes together: the MST flags and the SSSP reachability/nexthop
// assignment must both be present after one call, on the same graph.
func TestComputeRunsMSTThenSSSP(t *testing.T) {
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)

	addReciprocalEdge(w, "self", "b", 1)
	addReciprocalEdge(w, "b", "c", 1)

	Compute(context.Background(), w, Config{})

	var mstEdges int
	w.EdgesByWeight(func(e *mesh.Edge) bool {
		if e.MST {
			mstEdges++
		}
		return true
	})
	if mstEdges == 0 {
		t.Fatalf("expected Compute to flag MST edges")
	}

	c, ok := w.LookupNode("c")
	if !ok || !c.State.Has(mesh.StateReachable) {
		t.Fatalf("expected Compute's SSSP pass to mark c reachable")
	}
}

// TestReachabilityHookFiresUpAndDownScripts covers spec §4.3's
// hosts/<name>-up / hosts/<name>-down hook, fired exactly on a
// reachability state flip.
func TestReachabilityHookFiresUpAndDownScripts(t *testing.T) {
	self := mesh.NewNode("self")
	self.State |= mesh.StateReachable // self is always reachable; avoid a spurious self-up hook
	w := mesh.NewWorld(self, time.Minute)
	addReciprocalEdge(w, "self", "b", 1)

	var rec scripts.Recording
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{
		Scripts: &rec,
		NetName: "mesh0",
		Device:  "tun0",
		Now:     func() time.Time { return fixedNow },
	}

	computeSSSP(context.Background(), w, cfg)

	if len(rec.Calls) != 1 || rec.Calls[0].Name != "hosts/b-up" {
		t.Fatalf("expected a single hosts/b-up call, got %+v", rec.Calls)
	}

	b, _ := w.LookupNode("b")
	w.RemoveEdge(self, b)
	w.RemoveEdge(b, self)
	computeSSSP(context.Background(), w, cfg)

	if len(rec.Calls) != 2 || rec.Calls[1].Name != "hosts/b-down" {
		t.Fatalf("expected a second call hosts/b-down, got %+v", rec.Calls)
	}
}

// TestReachabilityHookSkippedWithoutScriptsRunner ensures a nil Scripts
// collaborator is a valid no-op, not a panic, per PMTUProbe/Config's
// "nil is a valid no-op" convention.
func TestReachabilityHookSkippedWithoutScriptsRunner(t *testing.T) {
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)
	addReciprocalEdge(w, "self", "b", 1)

	computeSSSP(context.Background(), w, Config{})

	b, _ := w.LookupNode("b")
	if !b.State.Has(mesh.StateReachable) {
		t.Fatalf("expected b to be reachable even without a Scripts runner")
	}
}

// TestPMTUProbeFiresOnAddressChangeWithValidKey covers spec §4.3/§4.4's
// "if(e->to->status.validkey) send_mtu_probe(e->to)" — the probe only
// fires for a node whose address just changed and which already holds a
// valid session key.
func TestPMTUProbeFiresOnAddressChangeWithValidKey(t *testing.T) {
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)

	b := w.Node("b")
	b.State |= mesh.StateValidKey
	addr := netutil.Addr{IP: net.ParseIP("10.0.0.2"), Port: 655}
	selfToB := &mesh.Edge{From: self, To: b, Weight: 1, Options: mesh.OptionPMTUDiscovery, Address: addr}
	bToSelf := &mesh.Edge{From: b, To: self, Weight: 1}
	w.AddEdge(selfToB)
	w.AddEdge(bToSelf)

	var probed []*mesh.Node
	cfg := Config{ProbePMTU: func(n *mesh.Node) { probed = append(probed, n) }}

	computeSSSP(context.Background(), w, cfg)

	if len(probed) != 1 || probed[0] != b {
		t.Fatalf("expected ProbePMTU to fire exactly once for b, got %v", probed)
	}
	if b.PMTU.MaxMTU != MTU {
		t.Fatalf("expected ResetPMTU to set MaxMTU to %d, got %d", MTU, b.PMTU.MaxMTU)
	}
}
