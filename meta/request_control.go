package meta

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/drep-project/meshvpnd/mesh"
)

// errTermReq is returned by handleTermReq so the reactor's error
// classifier (SPEC_FULL.md §9) can tell a cooperative close apart from a
// genuine protocol violation when deciding what, if anything, to log.
var errTermReq = errors.New("meta: cooperative termination")

// handlePing resets last_ping_time and clears pinged, then replies PONG —
// spec §4.2 "Control verbs. PING/PONG reset last_ping_time and clear
// pinged."
func handlePing(ctx *Context, c *mesh.Connection, args []string) error {
	c.LastPingTime = ctx.now()
	c.State &^= mesh.ConnPinged
	line := fmt.Sprintf("%d", mesh.ReqPong)
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

func handlePong(ctx *Context, c *mesh.Connection, args []string) error {
	c.LastPingTime = ctx.now()
	c.State &^= mesh.ConnPinged
	return nil
}

// handleStatus logs an informational status line from the peer (spec
// §4.2 "STATUS and ERROR are logged").
func handleStatus(ctx *Context, c *mesh.Connection, args []string) error {
	ctx.logger(c).WithField("args", args).Info("meta: STATUS")
	return nil
}

func handleError(ctx *Context, c *mesh.Connection, args []string) error {
	ctx.logger(c).WithField("args", args).Warn("meta: ERROR")
	return nil
}

// handleTermReq terminates the connection cooperatively, per spec §4.2
// "TERMREQ terminates the connection cooperatively."
func handleTermReq(ctx *Context, c *mesh.Connection, args []string) error {
	ctx.logger(c).Info("meta: TERMREQ")
	if ctx.OnTerminate != nil {
		ctx.OnTerminate(c)
	}
	return fmt.Errorf("%w: peer requested termination", errTermReq)
}

// handlePacketHeader processes "PACKET len" and arms c.TCPLen so the
// next len bytes the io.Receive loop reads are delivered opaquely to
// dispatchPacket instead of being scanned for a newline — spec §4.5 "TCP
// fallback: same payload wrapped in a PACKET len\n<len opaque bytes>
// meta frame on the nexthop connection."
func handlePacketHeader(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: PACKET wants 1 arg", ErrProtocol)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > MaxBufSize {
		return fmt.Errorf("%w: malformed or oversized PACKET length %q", ErrProtocol, args[0])
	}
	c.TCPLen = n
	return nil
}

// SendPacket wraps payload in a "PACKET len\n<len opaque bytes>" meta
// frame and queues it on c, spec §4.5's TCP fallback path used when a
// node is TCPONLY, INDIRECT with no learned UDP address, or its direct
// path is itself indirect.
func SendPacket(ctx *Context, c *mesh.Connection, payload []byte) error {
	header := fmt.Sprintf("%d %d\n", mesh.ReqPacket, len(payload))
	if err := Send(c, ctx.MaxOutputBufferSize, []byte(header)); err != nil {
		return err
	}
	return Send(c, ctx.MaxOutputBufferSize, payload)
}
