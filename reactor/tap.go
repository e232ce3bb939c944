package reactor

import "github.com/drep-project/meshvpnd/tunnel"

// tapReadLoop reads Ethernet frames from the local tun/tap device and
// hands each to the routing engine — spec §4.4 "local frame ->
// HandleLocalFrame". Framing/device I/O happens here; routing decisions
// (MAC learning, LPM lookup, MST/direct broadcast) run on the reactor
// goroutine via the same event channel as everything else, since they
// read and write mesh.World/Node state.
func (r *Reactor) tapReadLoop() {
	defer r.wg.Done()
	for {
		f, err := r.Routing.Device.ReadPacket()
		if err != nil {
			return
		}

		result := make(chan error, 1)
		r.events <- dispatchEvent{kind: eventPacket, payload: f.Data, result: result, isLocalFrame: true, priority: f.Priority}
		<-result
	}
}

func (r *Reactor) handleLocalFrame(f tunnel.Frame) {
	_ = r.Routing.HandleLocalFrame(f)
}
