package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/drep-project/meshvpnd/internal/scripts"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/netutil"
)

// MTU is the default path-MTU probe ceiling, reset onto a node whenever
// its address changes or it becomes unreachable (spec §4.3/§4.4).
const MTU = 1500

// PMTUProbe is invoked for nodes whose address changed and who already
// hold a valid session key, mirroring sssp_bfs()'s
// "if(e->to->status.validkey) send_mtu_probe(e->to)". Wired to
// routing.Engine.ProbePMTU by the reactor; nil is a valid no-op.
type PMTUProbe func(n *mesh.Node)

// Config bundles the script runner and environment context SSSP needs
// for the reachability-change hook (spec §4.3).
type Config struct {
	Scripts     scripts.Runner
	NetName     string
	Device      string
	Interface   string
	ProbePMTU   PMTUProbe
	Now         func() time.Time
}

// computeSSSP runs breadth-first search from w.Self, assigning
// reachable/indirect/nexthop/via to every node, re-keying the UDP address
// index on address changes, and firing the reachability hook for nodes
// whose visited status flips — a direct port of sssp_bfs().
func computeSSSP(ctx context.Context, w *mesh.World, cfg Config) {
	self := w.Self

	visitedNow := make(map[*mesh.Node]bool)
	for _, n := range w.Nodes() {
		visitedNow[n] = false
	}

	self.NextHop = self
	self.Via = self
	visitedNow[self] = true
	indirectNow := map[*mesh.Node]bool{self: false}

	queue := []*mesh.Node{self}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		n.Edges.Each(func(e *mesh.Edge) bool {
			rev := e.Reverse(w)
			if rev == nil {
				return true
			}
			to := e.To

			indirect := indirectNow[n] || e.Options.Has(mesh.OptionIndirect) ||
				(n != self && !netutil.Equal(n.Address, rev.Address))

			if visitedNow[to] && (!indirectNow[to] || indirect) {
				return true
			}

			visitedNow[to] = true
			indirectNow[to] = indirect

			if n.NextHop == self {
				to.NextHop = to
			} else {
				to.NextHop = n.NextHop
			}
			if indirect {
				to.Via = n.Via
			} else {
				to.Via = to
			}
			to.Options = e.Options

			if !netutil.Equal(to.Address, e.Address) {
				to.Address = netutil.Copy(e.Address)
				to.Hostname = netutil.Hostname(to.Address, false)
				w.IndexUDPAddress(to, to.Address)

				if to.Options.Has(mesh.OptionPMTUDiscovery) {
					to.ResetPMTU(MTU)
					if to.State.Has(mesh.StateValidKey) && cfg.ProbePMTU != nil {
						cfg.ProbePMTU(to)
					}
				}
			}

			queue = append(queue, to)
			return true
		})
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	for _, n := range w.Nodes() {
		wasReachable := n.State.Has(mesh.StateReachable)
		isReachable := visitedNow[n]
		if wasReachable == isReachable {
			n.State.SetIndirect(indirectNow[n])
			continue
		}

		if isReachable {
			n.State |= mesh.StateReachable
		} else {
			n.State &^= mesh.StateReachable
		}
		n.State.SetIndirect(indirectNow[n])

		n.InvalidateKeys()
		n.ResetPMTU(MTU)

		fireReachabilityHook(ctx, w, cfg, n, isReachable, now())

		w.FireReachability(n, isReachable)
	}
}

func fireReachabilityHook(ctx context.Context, w *mesh.World, cfg Config, n *mesh.Node, reachable bool, now time.Time) {
	if !reachable {
		w.IndexUDPAddress(n, netutil.Addr{})
	}

	if cfg.Scripts == nil {
		return
	}

	env := []string{
		"NETNAME=" + cfg.NetName,
		"DEVICE=" + cfg.Device,
		"INTERFACE=" + cfg.Interface,
		"NODE=" + n.Name,
		"REMOTEADDRESS=" + addrHost(n.Address),
		"REMOTEPORT=" + fmt.Sprint(n.Address.Port),
	}

	name := fmt.Sprintf("hosts/%s-down", n.Name)
	if reachable {
		name = fmt.Sprintf("hosts/%s-up", n.Name)
	}
	_ = cfg.Scripts.Run(ctx, name, env)
}

func addrHost(a netutil.Addr) string {
	if a.Host != "" {
		return a.Host
	}
	if a.IP != nil {
		return a.IP.String()
	}
	return ""
}
