// Package meta implements the meta-protocol I/O (C4) and request
// dispatch (C5) of spec §4.1/§4.2, ported from tinc's meta.c/protocol.c.
package meta

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/drep-project/meshvpnd/mesh"
)

// MaxBufSize is the hard ceiling on the inbound buffer (spec §4.1/§8
// Property 7): overflow without a complete frame is fatal to the
// connection.
const MaxBufSize = 128 * 1024

// DefaultMaxOutputBufferSize is 10*MTU, the spec §4.1/§6 default for
// MaxOutputBufferSize.
const DefaultMaxOutputBufferSize = 10 * 1500

var (
	// ErrBufferOverflow is returned when the inbound buffer fills
	// without a complete frame boundary (spec §7 "Resource exhaustion").
	ErrBufferOverflow = errors.New("meta: inbound buffer overflow")
	// ErrOutputOverflow is returned when Send would exceed the
	// configured MaxOutputBufferSize.
	ErrOutputOverflow = errors.New("meta: outbound buffer overflow")
	// ErrConnectionClosed signals a clean close (recv returned 0) or a
	// transport-loss condition (spec §7 "Transport loss").
	ErrConnectionClosed = errors.New("meta: connection closed")
)

// wouldBlock reports whether err is a transient would-block condition
// that the reactor should simply re-arm for, per spec §4.1 "Errors".
func wouldBlock(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Send appends data to c's outbound buffer, encrypting it in place if the
// meta channel is active, per spec §4.1: "never blocks — partial flushes
// are handled by the reactor."
func Send(c *mesh.Connection, maxOutputBufferSize int, data []byte) error {
	if maxOutputBufferSize <= 0 {
		maxOutputBufferSize = DefaultMaxOutputBufferSize
	}
	if len(c.OutBuf)-c.OutPos+len(data) > maxOutputBufferSize {
		return ErrOutputOverflow
	}

	if c.OutPos > 0 {
		copy(c.OutBuf, c.OutBuf[c.OutPos:])
		c.OutBuf = c.OutBuf[:len(c.OutBuf)-c.OutPos]
		c.OutPos = 0
	}

	start := len(c.OutBuf)
	c.OutBuf = append(c.OutBuf, data...)

	if c.State.Has(mesh.ConnEncryptOut) && c.Suite != nil {
		c.Suite.Encrypt.XORKeyStream(c.OutBuf[start:], c.OutBuf[start:])
	}

	return nil
}

// Flush drains c's outbound buffer to its socket. Returns nil on full or
// partial success (a would-block error re-arms write readiness at the
// reactor layer rather than being treated as fatal); non-nil, non-
// would-block errors are fatal per spec §4.1/§7.
func Flush(c *mesh.Connection) error {
	if len(c.OutBuf) == c.OutPos {
		return nil
	}
	for c.OutPos < len(c.OutBuf) {
		n, err := c.Socket.Write(c.OutBuf[c.OutPos:])
		if n > 0 {
			c.OutPos += n
		}
		if err != nil {
			if wouldBlock(err) {
				return nil
			}
			return err
		}
		if n == 0 {
			return ErrConnectionClosed
		}
	}
	c.OutBuf = c.OutBuf[:0]
	c.OutPos = 0
	c.LastFlushedTime = time.Now()
	return nil
}

// Broadcast enqueues data to every active connection in w except from,
// mirroring broadcast_meta().
func Broadcast(w *mesh.World, from *mesh.Connection, maxOutputBufferSize int, data []byte) {
	for _, c := range w.ActiveConnections() {
		if c == from {
			continue
		}
		_ = Send(c, maxOutputBufferSize, data)
	}
}

// Dispatcher is called once per complete request line, and once per
// complete opaque TCP-packet frame.
type Dispatcher interface {
	DispatchLine(c *mesh.Connection, line string) error
	DispatchPacket(c *mesh.Connection, payload []byte) error
}

// Receive pulls one readiness's worth of bytes from c's socket and feeds
// complete frames to disp, mirroring receive_meta(). It decrypts the
// newly-read slice exactly once per call even if the loop below peels off
// more than one frame — see SPEC_FULL.md §5.1 for why that single-decrypt
// guarantee must be preserved (the cipher is a continuous keystream;
// decrypting the same offset twice would desync it).
func Receive(c *mesh.Connection, disp Dispatcher) error {
	chunk := make([]byte, MaxBufSize)
	n, err := c.Socket.Read(chunk)
	if n <= 0 {
		if err == nil || err == io.EOF {
			return ErrConnectionClosed
		}
		if wouldBlock(err) {
			return nil
		}
		return err
	}

	oldLen := len(c.InBuf)
	c.InBuf = append(c.InBuf, chunk[:n]...)

	if c.State.Has(mesh.ConnEncryptIn) && c.Suite != nil {
		c.Suite.Decrypt.XORKeyStream(c.InBuf[oldLen:], c.InBuf[oldLen:])
	}

	for {
		if c.TCPLen > 0 {
			if c.TCPLen > len(c.InBuf) {
				break
			}
			payload := append([]byte(nil), c.InBuf[:c.TCPLen]...)
			c.InBuf = append(c.InBuf[:0], c.InBuf[c.TCPLen:]...)
			c.TCPLen = 0
			if err := disp.DispatchPacket(c, payload); err != nil {
				return err
			}
			continue
		}

		idx := bytes.IndexByte(c.InBuf, '\n')
		if idx < 0 {
			break
		}
		line := string(c.InBuf[:idx])
		c.InBuf = append(c.InBuf[:0], c.InBuf[idx+1:]...)
		if err := disp.DispatchLine(c, line); err != nil {
			return err
		}
	}

	if len(c.InBuf) >= MaxBufSize {
		return ErrBufferOverflow
	}

	return nil
}
