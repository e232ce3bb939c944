package routing

import "github.com/drep-project/meshvpnd/tunnel"

// switchLocal implements spec §4.4's hub/switch handling of a frame read
// from the local tap device: learn the source MAC (switch mode only),
// then either unicast to the learned owner or fall back to the
// broadcast policy for unknown-unicast/broadcast/multicast destinations.
func (e *Engine) switchLocal(f tunnel.Frame) error {
	eth, ok := parseEthernet(f.Data)
	if !ok {
		return nil // malformed frame, silently dropped
	}

	if e.Mode == ModeSwitch {
		e.learn(eth.src, e.World.Self)
	}

	if e.Mode == ModeHub || isBroadcastOrMulticast(eth.dst) {
		return e.broadcastFrame(f.Data, nil)
	}

	owner, ok := e.LookupMAC(eth.dst)
	if !ok || owner == e.World.Self {
		return e.broadcastFrame(f.Data, nil)
	}
	return e.transmitToNode(owner, f.Data)
}
