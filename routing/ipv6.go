package routing

import "net"

const icmpv6Protocol = 58

// ipv6Header is the subset of RFC 8200 fields route() needs.
type ipv6Header struct {
	nextHeader byte
	hopLimit   byte
	dst        net.IP
}

func parseIPv6(pkt []byte) (ipv6Header, bool) {
	if len(pkt) < 40 {
		return ipv6Header{}, false
	}
	if pkt[0]>>4 != 6 {
		return ipv6Header{}, false
	}
	return ipv6Header{
		nextHeader: pkt[6],
		hopLimit:   pkt[7],
		dst:        net.IP(append([]byte(nil), pkt[24:40]...)),
	}, true
}

// decrementHopLimit mirrors decrementTTL for IPv6, which carries no
// header checksum to fix up.
func decrementHopLimit(pkt []byte, hdr ipv6Header) bool {
	if hdr.hopLimit <= 1 {
		return false
	}
	pkt[7] = hdr.hopLimit - 1
	return true
}
