package routing

import (
	"encoding/binary"
	"net"

	"github.com/drep-project/meshvpnd/tunnel"
)

const (
	icmpv6NeighborSolicit    = 135
	icmpv6NeighborAdvertise  = 136
	ndpOptTargetLinkLayer    = 2
	ndpSolicitedFlag  uint32 = 1 << 30
	ndpOverrideFlag   uint32 = 1 << 29
)

// handleNDPSolicitation answers an ICMPv6 Neighbor Solicitation locally
// if its target address is owned by a node in our subnet table — the
// IPv6 analogue of proxy ARP, spec §4.4 "ARP and ND are answered locally
// ... so peers never flood."
func (e *Engine) handleNDPSolicitation(eth ethernetFrame, ip6 ipv6Header) error {
	icmp := eth.payload[40:]
	if len(icmp) < 24 || icmp[0] != icmpv6NeighborSolicit {
		return nil
	}
	target := net.IP(icmp[8:24])
	if _, sub := e.lookupRoute(target); sub == nil {
		return nil
	}

	srcIP := net.IP(append([]byte(nil), eth.payload[8:24]...))
	reply := buildNDPAdvertisement(e.LocalMAC, target, srcIP)
	frame := buildEthernet(eth.src, e.LocalMAC, EtherTypeIPv6, reply)
	if e.Device == nil {
		return nil
	}
	return e.Device.WritePacket(tunnel.Frame{Data: frame})
}

// buildNDPAdvertisement builds the IPv6 + ICMPv6 Neighbor Advertisement
// packet replying that target is reachable at localMAC, sent to dstIP
// (the solicitation's source).
func buildNDPAdvertisement(localMAC net.HardwareAddr, target, dstIP net.IP) []byte {
	icmp := make([]byte, 32) // 4 hdr + 4 flags + 16 target + 8 option
	icmp[0] = icmpv6NeighborAdvertise
	binary.BigEndian.PutUint32(icmp[4:8], ndpSolicitedFlag|ndpOverrideFlag)
	copy(icmp[8:24], target.To16())
	icmp[24] = ndpOptTargetLinkLayer
	icmp[25] = 1 // option length in units of 8 bytes
	copy(icmp[26:32], localMAC)

	ip6 := make([]byte, 40+len(icmp))
	ip6[0] = 0x60
	binary.BigEndian.PutUint16(ip6[4:6], uint16(len(icmp)))
	ip6[6] = icmpv6Protocol
	ip6[7] = 255 // NDP requires hop limit 255
	copy(ip6[8:24], target.To16())
	copy(ip6[24:40], dstIP.To16())
	copy(ip6[40:], icmp)

	binary.BigEndian.PutUint16(icmp[2:4], 0)
	sum := icmpv6Checksum(ip6[8:24], ip6[24:40], icmp)
	binary.BigEndian.PutUint16(ip6[40+2:40+4], sum)
	return ip6
}

func icmpv6Checksum(src, dst, icmp []byte) uint16 {
	pseudo := make([]byte, 40+len(icmp))
	copy(pseudo[0:16], src)
	copy(pseudo[16:32], dst)
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(icmp)))
	pseudo[39] = icmpv6Protocol
	copy(pseudo[40:], icmp)
	return ipChecksum(pseudo)
}
