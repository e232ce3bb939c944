package meta

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/mesh"
)

// errSuppressFlood is returned by a flooded-verb handler that has fully
// handled a request itself and must not have the original line
// re-broadcast to other connections — e.g. a self-authority retaliation
// (spec §4.2 "ADD_SUBNET/DEL_SUBNET whose owner is self") or a subnet
// conflict dropped silently. Dispatch treats it as success with no
// flood, never surfacing it to the caller.
var errSuppressFlood = errors.New("meta: handled, do not flood")

// ProtocolMajor/ProtocolMinor are the negotiated ID line version numbers,
// spec §4.2 "ID name protocol_major.protocol_minor".
const (
	ProtocolMajor = 17
	ProtocolMinor = 7
)

// Handler processes one verb's arguments (the tokens after the request
// id) on c. Returning an error is always fatal to the connection per
// spec §4.2: "Handlers return success/failure; failure always terminates
// the connection."
type Handler func(ctx *Context, c *mesh.Connection, args []string) error

// NewSuite builds the symmetric Suite once a METAKEY (or SPTPS) exchange
// supplies key material; it is a collaborator rather than a concrete
// constructor so tests can substitute a recording fake.
type NewSuite func(encryptKey, encryptIV, decryptKey, decryptIV []byte, macLen int) (*cryptosuite.Suite, error)

// Context bundles everything a verb handler needs: the shared World,
// this node's identity, and the crypto/script collaborators. One Context
// is shared by every connection the reactor owns.
type Context struct {
	World *mesh.World

	Self        *mesh.Node
	SelfOptions mesh.Options
	SelfPrivateKey *rsa.PrivateKey

	MaxOutputBufferSize int

	Suite NewSuite

	Log *logrus.Entry

	// pending holds handshake scratch state per in-progress connection;
	// see handshake.go. Only ever touched from the reactor goroutine.
	pending map[*mesh.Connection]*handshakeState

	// Now lets tests pin the clock used for past-request timestamps and
	// session epochs.
	Now func() time.Time

	// TunnelServer mirrors spec §4.2 "tunnel-server mode": when true,
	// ADD_SUBNET/ADD_EDGE from a peer must name only itself or nodes it
	// directly advertised.
	TunnelServer bool

	// MarkDirty is called whenever topology changes (ADD_EDGE, DEL_EDGE,
	// a connection activating) so the reactor can coalesce graph
	// recomputation at the end of a channel-drain batch, per
	// SPEC_FULL.md §7.
	MarkDirty func()

	// OnTerminate is invoked when a TERMREQ or a fatal handler error
	// requires package connmgr to tear the connection down.
	OnTerminate func(c *mesh.Connection)

	// OnTunnelPacket delivers a decoded PACKET frame's opaque payload to
	// the routing engine (C7), wired by package reactor. nil is a valid
	// no-op used by handshake-only tests.
	OnTunnelPacket func(c *mesh.Connection, payload []byte) error
}

func (ctx *Context) now() time.Time {
	if ctx.Now != nil {
		return ctx.Now()
	}
	return time.Now()
}

func (ctx *Context) dirty() {
	if ctx.MarkDirty != nil {
		ctx.MarkDirty()
	}
}

func (ctx *Context) logger(c *mesh.Connection) *logrus.Entry {
	if ctx.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return ctx.Log.WithField("peer", c.Name)
}

// dispatchTable mirrors tinc's request_handlers[] array: one slot per
// RequestID, nil for verbs with no handler (there are none here — all 18
// are wired).
var dispatchTable = [mesh.NumRequests]Handler{}

func init() {
	reg := func(id mesh.RequestID, h Handler) { dispatchTable[id] = h }
	reg(mesh.ReqID, handleID)
	reg(mesh.ReqMetaKey, handleMetaKey)
	reg(mesh.ReqChallenge, handleChallenge)
	reg(mesh.ReqChalReply, handleChalReply)
	reg(mesh.ReqAck, handleAck)
	reg(mesh.ReqStatus, handleStatus)
	reg(mesh.ReqError, handleError)
	reg(mesh.ReqTermReq, handleTermReq)
	reg(mesh.ReqPing, handlePing)
	reg(mesh.ReqPong, handlePong)
	reg(mesh.ReqAddSubnet, handleAddSubnet)
	reg(mesh.ReqDelSubnet, handleDelSubnet)
	reg(mesh.ReqAddEdge, handleAddEdge)
	reg(mesh.ReqDelEdge, handleDelEdge)
	reg(mesh.ReqKeyChanged, handleKeyChanged)
	reg(mesh.ReqReqKey, handleReqKey)
	reg(mesh.ReqAnsKey, handleAnsKey)
	reg(mesh.ReqPacket, handlePacketHeader)
}

// Driver adapts a Context into the meta.Dispatcher interface io.go's
// Receive loop calls.
type Driver struct {
	Ctx *Context
}

func (d Driver) DispatchLine(c *mesh.Connection, line string) error {
	return Dispatch(d.Ctx, c, line)
}

func (d Driver) DispatchPacket(c *mesh.Connection, payload []byte) error {
	return dispatchPacket(d.Ctx, c, payload)
}

// Dispatch parses one request line and routes it to its handler,
// enforcing the per-connection allow_request gate and flooding dedup
// exactly as tinc's receive_request()/dispatch table do.
func Dispatch(ctx *Context, c *mesh.Connection, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty request line", ErrProtocol)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 || n >= mesh.NumRequests {
		return fmt.Errorf("%w: malformed request id %q", ErrProtocol, fields[0])
	}
	id := mesh.RequestID(n)

	if c.AllowRequest != mesh.RequestALL && c.AllowRequest != id {
		return fmt.Errorf("%w: %s not permitted (expected %s)", ErrProtocol, id.Name(), c.AllowRequest.Name())
	}

	h := dispatchTable[id]
	if h == nil {
		return fmt.Errorf("%w: unknown request id %d", ErrProtocol, n)
	}

	if isFloodedVerb(id) {
		if ctx.World.SeenRequest(line, ctx.now()) {
			return nil // silently dropped duplicate, spec §4.2 "Flood and dedup"
		}
	}

	if err := h(ctx, c, fields[1:]); err != nil {
		if errors.Is(err, errSuppressFlood) {
			return nil
		}
		return err
	}

	if floodsToAllPeers(id) {
		Broadcast(ctx.World, c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
	}

	return nil
}

// isFloodedVerb reports whether id is one of the six verbs that
// participate in the flood dedup cache (spec §4.2's "Flood and dedup"),
// gating the SeenRequest check above.
func isFloodedVerb(id mesh.RequestID) bool {
	switch id {
	case mesh.ReqAddSubnet, mesh.ReqDelSubnet, mesh.ReqAddEdge, mesh.ReqDelEdge,
		mesh.ReqKeyChanged, mesh.ReqReqKey:
		return true
	default:
		return false
	}
}

// floodsToAllPeers reports whether id's handler relies on Dispatch to
// re-broadcast the original line to every other active connection once
// handled. REQ_KEY shares the dedup cache above but is not one of these:
// spec §4.2's "Key distribution" is strictly targeted relay (to == self
// answers locally, otherwise forward to to's next hop), and
// handleReqKey already owns all point-to-point delivery itself via
// sendAnsKey/forwardToNextHop — broadcasting it here as well would
// flood every other link with a request that has nothing to do with
// their path to the destination.
func floodsToAllPeers(id mesh.RequestID) bool {
	return isFloodedVerb(id) && id != mesh.ReqReqKey
}

// dispatchPacket hands an opaque PACKET-frame payload to the routing
// engine via ctx's collaborator, once wired by package reactor. Left as
// a thin seam here: package meta only owns framing, not L2/L3 delivery
// (spec §4.5's "TCP fallback" contract belongs to C7/C8).
func dispatchPacket(ctx *Context, c *mesh.Connection, payload []byte) error {
	if ctx.OnTunnelPacket == nil {
		return nil
	}
	return ctx.OnTunnelPacket(c, payload)
}
