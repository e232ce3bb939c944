package routing

import "github.com/drep-project/meshvpnd/tunnel"

// routeLocal implements spec §4.4 router mode: parse the L3 header,
// answer ARP/ND locally when the target lies in a known subnet, look up the
// destination by longest-prefix match and forward the bare L3 payload
// toward the owning node (router mode strips the Ethernet header, unlike
// hub/switch mode which forwards the whole frame).
func (e *Engine) routeLocal(f tunnel.Frame) error {
	eth, ok := parseEthernet(f.Data)
	if !ok {
		return nil
	}

	switch eth.ethertype {
	case EtherTypeARP:
		return e.handleARP(eth)
	case EtherTypeIPv4:
		return e.routeIPv4(eth)
	case EtherTypeIPv6:
		return e.routeIPv6(eth)
	default:
		return nil
	}
}

func (e *Engine) routeIPv4(eth ethernetFrame) error {
	hdr, ok := parseIPv4(eth.payload)
	if !ok {
		return nil
	}
	if e.DecrementTTL && !decrementTTL(eth.payload, hdr) {
		return nil // TTL exhausted; ICMP time-exceeded generation is out of scope (spec §1)
	}
	if e.MaxMSS > 0 && hdr.protocol == tcpProtocol {
		clampMSS(eth.payload, hdr, e.MaxMSS)
	}

	node, sub := e.lookupRoute(hdr.dst)
	if sub == nil || node == e.World.Self {
		return nil
	}
	return e.transmitToNode(node, eth.payload)
}

func (e *Engine) routeIPv6(eth ethernetFrame) error {
	hdr, ok := parseIPv6(eth.payload)
	if !ok {
		return nil
	}
	if hdr.nextHeader == icmpv6Protocol {
		if err := e.handleNDPSolicitation(eth, hdr); err != nil {
			return err
		}
	}
	if e.DecrementTTL && !decrementHopLimit(eth.payload, hdr) {
		return nil
	}

	node, sub := e.lookupRoute(hdr.dst)
	if sub == nil || node == e.World.Self {
		return nil
	}
	return e.transmitToNode(node, eth.payload)
}
