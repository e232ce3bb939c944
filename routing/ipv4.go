package routing

import (
	"encoding/binary"
	"net"
)

const tcpProtocol = 6

// ipv4Header is the subset of RFC 791 fields route() needs: header
// length (for checksum recompute), TTL, upper-layer protocol, and the
// destination address for the LPM lookup.
type ipv4Header struct {
	ihl      int // header length in bytes
	ttl      byte
	protocol byte
	dst      net.IP
}

func parseIPv4(pkt []byte) (ipv4Header, bool) {
	if len(pkt) < 20 {
		return ipv4Header{}, false
	}
	if pkt[0]>>4 != 4 {
		return ipv4Header{}, false
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < 20 || len(pkt) < ihl {
		return ipv4Header{}, false
	}
	return ipv4Header{
		ihl:      ihl,
		ttl:      pkt[8],
		protocol: pkt[9],
		dst:      net.IP(append([]byte(nil), pkt[16:20]...)),
	}, true
}

// decrementTTL lowers pkt's TTL by one in place and recomputes the
// header checksum, spec §4.4 "TTL is decremented if configured." Reports
// false (packet dropped, no ICMP generated — out of scope per spec §1)
// if the TTL was already exhausted.
func decrementTTL(pkt []byte, hdr ipv4Header) bool {
	if hdr.ttl <= 1 {
		return false
	}
	pkt[8] = hdr.ttl - 1
	fixIPv4Checksum(pkt[:hdr.ihl])
	return true
}

func fixIPv4Checksum(header []byte) {
	header[10], header[11] = 0, 0
	sum := ipChecksum(header)
	binary.BigEndian.PutUint16(header[10:12], sum)
}

func ipChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// clampMSS rewrites a TCP SYN segment's MSS option down to maxMSS if it
// advertises a larger value, spec §4.4 "MSS is clamped if configured" —
// the standard PMTU-blackhole workaround tinc's route.c implements for
// TCP flows crossing the mesh's reduced MTU.
func clampMSS(pkt []byte, hdr ipv4Header, maxMSS uint16) {
	tcp := pkt[hdr.ihl:]
	if len(tcp) < 20 {
		return
	}
	flags := tcp[13]
	const synFlag = 0x02
	if flags&synFlag == 0 {
		return
	}
	dataOffset := int(tcp[12]>>4) * 4
	if dataOffset < 20 || len(tcp) < dataOffset {
		return
	}
	opts := tcp[20:dataOffset]
	for i := 0; i+1 < len(opts); {
		kind := opts[i]
		switch kind {
		case 0: // end of options
			return
		case 1: // no-op
			i++
			continue
		default:
			if i+1 >= len(opts) {
				return
			}
			optLen := int(opts[i+1])
			if optLen < 2 || i+optLen > len(opts) {
				return
			}
			if kind == 2 && optLen == 4 { // MSS option
				cur := binary.BigEndian.Uint16(opts[i+2 : i+4])
				if cur > maxMSS {
					binary.BigEndian.PutUint16(opts[i+2:i+4], maxMSS)
					fixTCPChecksum(pkt, hdr)
				}
				return
			}
			i += optLen
		}
	}
}

// fixTCPChecksum recomputes the TCP checksum over the IPv4 pseudo-header
// plus segment, after an in-place option rewrite.
func fixTCPChecksum(pkt []byte, hdr ipv4Header) {
	tcp := pkt[hdr.ihl:]
	tcp[16], tcp[17] = 0, 0

	pseudo := make([]byte, 12+len(tcp))
	copy(pseudo[0:4], pkt[12:16]) // src
	copy(pseudo[4:8], pkt[16:20]) // dst
	pseudo[9] = tcpProtocol
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcp)))
	copy(pseudo[12:], tcp)

	sum := ipChecksum(pseudo)
	binary.BigEndian.PutUint16(tcp[16:18], sum)
}
