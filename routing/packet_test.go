package routing

import (
	"encoding/binary"
	"net"
	"testing"
)

// TestARPRoundTrip builds a request and checks the reply carries the
// requester's own MAC/IP back as the target, per parseARP/buildARPReply.
func TestARPRoundTrip(t *testing.T) {
	sender := macAddr("00:11:22:33:44:55")
	senderIP := net.ParseIP("10.0.0.5").To4()
	targetIP := net.ParseIP("10.0.0.1").To4()

	req := make([]byte, arpLen)
	binary.BigEndian.PutUint16(req[0:2], 1)
	binary.BigEndian.PutUint16(req[2:4], EtherTypeIPv4)
	req[4], req[5] = 6, 4
	binary.BigEndian.PutUint16(req[6:8], arpRequest)
	copy(req[8:14], sender)
	copy(req[14:18], senderIP)
	copy(req[24:28], targetIP)

	parsed, ok := parseARP(req)
	if !ok {
		t.Fatalf("parseARP rejected a well-formed request")
	}
	if parsed.opcode != arpRequest {
		t.Fatalf("expected opcode arpRequest, got %d", parsed.opcode)
	}

	localMAC := macAddr("aa:bb:cc:dd:ee:ff")
	reply := buildARPReply(localMAC, targetIP, parsed)

	replyParsed, ok := parseARP(reply)
	if !ok {
		t.Fatalf("parseARP rejected the generated reply")
	}
	if replyParsed.opcode != arpReply {
		t.Fatalf("expected reply opcode arpReply, got %d", replyParsed.opcode)
	}
	if !replyParsed.targetIP.Equal(senderIP) {
		t.Fatalf("reply must address the original sender, got %v", replyParsed.targetIP)
	}
}

func buildIPv4(ttl, protocol byte, dst net.IP) []byte {
	pkt := make([]byte, 20)
	pkt[0] = 0x45 // version 4, IHL 5
	pkt[8] = ttl
	pkt[9] = protocol
	copy(pkt[16:20], dst.To4())
	fixIPv4Checksum(pkt)
	return pkt
}

// TestDecrementTTLRecomputesChecksum is spec §4.4's "TTL is decremented
// if configured", including the checksum fixup decrementTTL promises.
func TestDecrementTTLRecomputesChecksum(t *testing.T) {
	pkt := buildIPv4(10, tcpProtocol, net.ParseIP("192.168.1.1"))
	hdr, ok := parseIPv4(pkt)
	if !ok {
		t.Fatalf("parseIPv4 rejected a well-formed header")
	}

	if !decrementTTL(pkt, hdr) {
		t.Fatalf("decrementTTL should succeed while ttl > 1")
	}
	if pkt[8] != 9 {
		t.Fatalf("expected ttl 9, got %d", pkt[8])
	}
	if ipChecksum(pkt[:20]) != 0 {
		t.Fatalf("header checksum must be valid after decrementTTL")
	}
}

// TestDecrementTTLExhausted mirrors route.c's silent drop when ttl<=1,
// with ICMP time-exceeded generation explicitly out of scope.
func TestDecrementTTLExhausted(t *testing.T) {
	pkt := buildIPv4(1, tcpProtocol, net.ParseIP("192.168.1.1"))
	hdr, _ := parseIPv4(pkt)
	if decrementTTL(pkt, hdr) {
		t.Fatalf("decrementTTL must report false once ttl is exhausted")
	}
}

func buildTCPSyn(mss uint16) []byte {
	ip := buildIPv4(64, tcpProtocol, net.ParseIP("10.0.0.2"))
	tcp := make([]byte, 24) // 20-byte header + 4-byte MSS option
	tcp[13] = 0x02          // SYN flag
	tcp[12] = 6 << 4        // data offset = 24 bytes
	tcp[20] = 2             // kind = MSS
	tcp[21] = 4             // length
	binary.BigEndian.PutUint16(tcp[22:24], mss)
	pkt := append(ip, tcp...)
	fixIPv4Checksum(pkt[:20])
	return pkt
}

// TestClampMSSRewritesOversizedOption is spec §4.4's "MSS is clamped if
// configured".
func TestClampMSSRewritesOversizedOption(t *testing.T) {
	pkt := buildTCPSyn(1460)
	hdr, ok := parseIPv4(pkt)
	if !ok {
		t.Fatalf("parseIPv4 rejected the synthetic SYN packet")
	}

	clampMSS(pkt, hdr, 1400)

	got := binary.BigEndian.Uint16(pkt[hdr.ihl+22 : hdr.ihl+24])
	if got != 1400 {
		t.Fatalf("expected MSS clamped to 1400, got %d", got)
	}
}

// TestClampMSSLeavesSmallerValuesAlone ensures clampMSS never raises an
// already-small MSS.
func TestClampMSSLeavesSmallerValuesAlone(t *testing.T) {
	pkt := buildTCPSyn(1200)
	hdr, _ := parseIPv4(pkt)

	clampMSS(pkt, hdr, 1400)

	got := binary.BigEndian.Uint16(pkt[hdr.ihl+22 : hdr.ihl+24])
	if got != 1200 {
		t.Fatalf("clampMSS must not raise an MSS already below the ceiling, got %d", got)
	}
}
