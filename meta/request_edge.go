package meta

import (
	"fmt"
	"strconv"

	"github.com/drep-project/meshvpnd/mesh"
)

// handleAddEdge installs an edge asserted by either endpoint — spec §4.2
// "ADD_EDGE and DEL_EDGE from one endpoint without corroboration are
// accepted (graph converges on the next SSSP)." Authority is only
// checked in tunnel-server mode.
func handleAddEdge(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 4)
	if !ok {
		return fmt.Errorf("%w: ADD_EDGE wants 4 fields + token", ErrProtocol)
	}
	fromName, toName := fields[0], fields[1]
	weight, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("%w: malformed edge weight", ErrProtocol)
	}
	opts, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: malformed edge options", ErrProtocol)
	}

	from := ctx.World.Node(fromName)
	if !authorisedFor(ctx, c, from) {
		return fmt.Errorf("%w: %s may not assert an edge from %s", ErrUnauthorized, c.Name, fromName)
	}
	to := ctx.World.Node(toName)

	edge := &mesh.Edge{From: from, To: to, Weight: weight, Options: mesh.Options(opts)}
	if from == c.Node {
		edge.Conn = c
	}
	ctx.World.AddEdge(edge)
	ctx.dirty()
	return nil
}

func handleDelEdge(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 2)
	if !ok {
		return fmt.Errorf("%w: DEL_EDGE wants 2 fields + token", ErrProtocol)
	}
	fromName, toName := fields[0], fields[1]

	from := ctx.World.Node(fromName)
	if !authorisedFor(ctx, c, from) {
		return fmt.Errorf("%w: %s may not retract an edge from %s", ErrUnauthorized, c.Name, fromName)
	}
	to := ctx.World.Node(toName)

	if _, ok := ctx.World.RemoveEdge(from, to); ok {
		ctx.dirty()
	}
	return nil
}
