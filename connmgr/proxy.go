package connmgr

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ProxyKind selects the upstream proxy protocol, spec §4.6 "SOCKS4/4a/5
// and HTTP CONNECT proxy types are supported". No pack dependency offers
// a SOCKS/CONNECT client (see DESIGN.md); these are the same handful of
// bytes-on-the-wire handshakes tinc itself hand-rolls in net_socket.c, so
// a small stdlib-only implementation is the faithful rendition here.
type ProxyKind int

const (
	ProxySOCKS4 ProxyKind = iota
	ProxySOCKS4a
	ProxySOCKS5
	ProxyHTTPConnect
)

func proxyHandshake(ctx context.Context, conn net.Conn, p Proxy, target string) error {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return fmt.Errorf("connmgr: malformed target address %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("connmgr: malformed target port %q: %w", portStr, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}

	switch p.Kind {
	case ProxySOCKS4:
		return socks4Handshake(conn, host, port, false)
	case ProxySOCKS4a:
		return socks4Handshake(conn, host, port, true)
	case ProxySOCKS5:
		return socks5Handshake(conn, host, port, p)
	case ProxyHTTPConnect:
		return httpConnectHandshake(conn, host, port, p)
	default:
		return fmt.Errorf("connmgr: unknown proxy kind %d", p.Kind)
	}
}

// socks4Handshake speaks SOCKS4 (RFC-less, de facto standard) or SOCKS4a
// (the 4a extension: hostname resolved by the proxy, signalled by an
// IPv4 address of 0.0.0.x and the hostname appended after the null user
// terminator) CONNECT requests.
func socks4Handshake(conn net.Conn, host string, port int, socks4a bool) error {
	ip := net.ParseIP(host)
	var ipv4 [4]byte
	useHostname := false
	if ip == nil {
		if !socks4a {
			return fmt.Errorf("connmgr: SOCKS4 requires a numeric address, got %q", host)
		}
		ipv4 = [4]byte{0, 0, 0, 1}
		useHostname = true
	} else if v4 := ip.To4(); v4 != nil {
		copy(ipv4[:], v4)
	} else {
		return fmt.Errorf("connmgr: SOCKS4/4a does not support IPv6 targets")
	}

	req := []byte{0x04, 0x01} // VER, CMD=CONNECT
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ipv4[:]...)
	req = append(req, 0x00) // empty USERID, null-terminated
	if useHostname {
		req = append(req, []byte(host)...)
		req = append(req, 0x00)
	}
	if _, err := conn.Write(req); err != nil {
		return err
	}

	reply := make([]byte, 8)
	if _, err := readFull(conn, reply); err != nil {
		return err
	}
	if reply[1] != 0x5a {
		return fmt.Errorf("connmgr: SOCKS4 CONNECT rejected, status 0x%02x", reply[1])
	}
	return nil
}

// socks5Handshake implements RFC 1928's method negotiation (no-auth or
// username/password) followed by a CONNECT request.
func socks5Handshake(conn net.Conn, host string, port int, p Proxy) error {
	methods := []byte{0x00}
	if p.Username != "" {
		methods = append(methods, 0x02)
	}
	greeting := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return err
	}
	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		return err
	}
	if resp[0] != 0x05 {
		return fmt.Errorf("connmgr: not a SOCKS5 proxy (version 0x%02x)", resp[0])
	}

	switch resp[1] {
	case 0x00: // no auth required
	case 0x02:
		if err := socks5Auth(conn, p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("connmgr: SOCKS5 proxy offered no acceptable auth method")
	}

	req := []byte{0x05, 0x01, 0x00} // VER, CMD=CONNECT, RSV
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			req = append(req, 0x01)
			req = append(req, v4...)
		} else {
			req = append(req, 0x04)
			req = append(req, ip.To16()...)
		}
	} else {
		req = append(req, 0x03, byte(len(host)))
		req = append(req, []byte(host)...)
	}
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	if _, err := conn.Write(req); err != nil {
		return err
	}

	reply := make([]byte, 4)
	if _, err := readFull(conn, reply); err != nil {
		return err
	}
	if reply[1] != 0x00 {
		return fmt.Errorf("connmgr: SOCKS5 CONNECT rejected, status 0x%02x", reply[1])
	}
	return discardSocks5Address(conn, reply[3])
}

func socks5Auth(conn net.Conn, p Proxy) error {
	req := []byte{0x01, byte(len(p.Username))}
	req = append(req, []byte(p.Username)...)
	req = append(req, byte(len(p.Password)))
	req = append(req, []byte(p.Password)...)
	if _, err := conn.Write(req); err != nil {
		return err
	}
	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		return err
	}
	if resp[1] != 0x00 {
		return fmt.Errorf("connmgr: SOCKS5 authentication failed")
	}
	return nil
}

// discardSocks5Address reads and discards the bound-address field of a
// CONNECT reply, whose length depends on the address type byte (atyp).
func discardSocks5Address(conn net.Conn, atyp byte) error {
	var n int
	switch atyp {
	case 0x01:
		n = 4
	case 0x04:
		n = 16
	case 0x03:
		lenByte := make([]byte, 1)
		if _, err := readFull(conn, lenByte); err != nil {
			return err
		}
		n = int(lenByte[0])
	default:
		return fmt.Errorf("connmgr: unknown SOCKS5 address type 0x%02x", atyp)
	}
	buf := make([]byte, n+2) // + bound port
	_, err := readFull(conn, buf)
	return err
}

// httpConnectHandshake issues an HTTP/1.1 CONNECT request and parses the
// status line of the response, per spec §4.6's HTTP CONNECT proxy type.
func httpConnectHandshake(conn net.Conn, host string, port int, p Proxy) error {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	req, err := http.NewRequest(http.MethodConnect, "http://"+target, nil)
	if err != nil {
		return err
	}
	req.Host = target
	if p.Username != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connmgr: HTTP CONNECT rejected: %s", resp.Status)
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
