package routing

import (
	"encoding/binary"
	"net"

	"github.com/drep-project/meshvpnd/tunnel"
)

const (
	arpRequest uint16 = 1
	arpReply   uint16 = 2
)

// arpPacket is a parsed IPv4-over-Ethernet ARP message (RFC 826).
type arpPacket struct {
	opcode    uint16
	senderMAC net.HardwareAddr
	senderIP  net.IP
	targetIP  net.IP
}

const arpLen = 28

func parseARP(payload []byte) (arpPacket, bool) {
	if len(payload) < arpLen {
		return arpPacket{}, false
	}
	if binary.BigEndian.Uint16(payload[0:2]) != 1 { // htype ethernet
		return arpPacket{}, false
	}
	if binary.BigEndian.Uint16(payload[2:4]) != EtherTypeIPv4 {
		return arpPacket{}, false
	}
	if payload[4] != 6 || payload[5] != 4 { // hlen, plen
		return arpPacket{}, false
	}
	return arpPacket{
		opcode:    binary.BigEndian.Uint16(payload[6:8]),
		senderMAC: net.HardwareAddr(append([]byte(nil), payload[8:14]...)),
		senderIP:  net.IP(append([]byte(nil), payload[14:18]...)),
		targetIP:  net.IP(append([]byte(nil), payload[24:28]...)),
	}, true
}

// buildARPReply constructs the spoofed proxy-ARP reply, spec §4.4 "ARP
// and ND are answered locally from the subnet table (spoofed proxy
// responses) so peers never flood."
func buildARPReply(localMAC net.HardwareAddr, localIP net.IP, req arpPacket) []byte {
	out := make([]byte, arpLen)
	binary.BigEndian.PutUint16(out[0:2], 1)
	binary.BigEndian.PutUint16(out[2:4], EtherTypeIPv4)
	out[4], out[5] = 6, 4
	binary.BigEndian.PutUint16(out[6:8], arpReply)
	copy(out[8:14], localMAC)
	copy(out[14:18], localIP.To4())
	copy(out[18:24], req.senderMAC)
	copy(out[24:28], req.senderIP.To4())
	return out
}

// handleARP answers an ARP request locally if the target address is
// owned by a node in our subnet table, otherwise drops it silently
// (router mode never floods ARP, spec §4.4).
func (e *Engine) handleARP(eth ethernetFrame) error {
	req, ok := parseARP(eth.payload)
	if !ok || req.opcode != arpRequest {
		return nil
	}
	if _, sub := e.lookupRoute(req.targetIP); sub == nil {
		return nil
	}
	reply := buildARPReply(e.LocalMAC, req.targetIP, req)
	frame := buildEthernet(req.senderMAC, e.LocalMAC, EtherTypeARP, reply)
	if e.Device == nil {
		return nil
	}
	return e.Device.WritePacket(tunnel.Frame{Data: frame})
}
