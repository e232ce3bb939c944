package meta

import (
	"fmt"

	"github.com/drep-project/meshvpnd/mesh"
)

// Ping sends a PING request on c — spec §4.6's PingInterval timer
// action. PING is not a flooded verb, so it carries no dedup token.
func Ping(ctx *Context, c *mesh.Connection) error {
	line := fmt.Sprintf("%d", mesh.ReqPing)
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

// AnnounceKeyChanged floods KEY_CHANGED for self — spec §4.6 "KeyExpire:
// regenerate local symmetric key, flood KEY_CHANGED." Called by package
// connmgr's maintenance tick, not a verb handler, so it originates its
// own dedup token via floodLine directly.
func AnnounceKeyChanged(ctx *Context) {
	line := floodLine(mesh.ReqKeyChanged, ctx.Self.Name)
	Broadcast(ctx.World, nil, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

// AnnounceDelEdge floods DEL_EDGE for the (from,to) edge — spec §4.6
// termination semantics: "cancel its advertised edge (self, peer), flood
// DEL_EDGE."
func AnnounceDelEdge(ctx *Context, from, to *mesh.Node) {
	line := floodLine(mesh.ReqDelEdge, from.Name, to.Name)
	Broadcast(ctx.World, nil, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

// AnnounceTermReq sends a cooperative TERMREQ to c, spec §4.6/§8's
// orderly shutdown path.
func AnnounceTermReq(ctx *Context, c *mesh.Connection) error {
	line := fmt.Sprintf("%d", mesh.ReqTermReq)
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}
