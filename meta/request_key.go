package meta

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/mesh"
)

// handleReqKey implements spec §4.2 "REQ_KEY from to: if to == self, send
// ANS_KEY containing current inbound symmetric key + cipher/MAC choice +
// compression; else if to is known and we have a route, forward to
// to->nexthop." REQ_KEY shares the flood-dedup cache with the topology
// verbs, but Dispatch excludes it from the post-handler broadcast (see
// floodsToAllPeers): every reply here is already point-to-point, either
// answered locally or relayed toward to's next hop, never rebroadcast.
func handleReqKey(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 2)
	if !ok {
		return fmt.Errorf("%w: REQ_KEY wants 2 fields + token", ErrProtocol)
	}
	fromName, toName := fields[0], fields[1]

	to, ok := ctx.World.LookupNode(toName)
	if !ok {
		return nil // unknown destination; nothing to do
	}

	if to == ctx.Self {
		return sendAnsKey(ctx, fromName)
	}

	// Preserve the original dedup token verbatim; forwarding toward
	// to's next hop is a point-to-point retransmission, not a fresh
	// flood origination.
	return forwardToNextHop(ctx, to, fmt.Sprintf("%d %s", mesh.ReqReqKey, joinArgs(args)))
}

func sendAnsKey(ctx *Context, requesterName string) error {
	self := ctx.Self
	if self.DataKeyIn == nil {
		key, err := cryptosuite.RandomKey(32)
		if err != nil {
			return fmt.Errorf("meta: generating data key: %w", err)
		}
		iv, err := cryptosuite.RandomKey(16)
		if err != nil {
			return err
		}
		self.DataKeyIn, self.DataKeyInIV = key, iv
	}

	requester, ok := ctx.World.LookupNode(requesterName)
	if !ok {
		return nil
	}

	line := fmt.Sprintf("%d %s %s %s %s aes-256-ctr sha1 4 0",
		mesh.ReqAnsKey, self.Name, requesterName,
		hex.EncodeToString(self.DataKeyIn), hex.EncodeToString(self.DataKeyInIV))

	if requester.Conn != nil {
		return Send(requester.Conn, ctx.MaxOutputBufferSize, []byte(line+"\n"))
	}
	return forwardToNextHop(ctx, requester, line)
}

// handleAnsKey installs the outbound key toward from (spec §4.2 "ANS_KEY
// analogously installs the outbound key toward from"), revalidating the
// route at send time rather than caching the nexthop seen when REQ_KEY
// was first issued — the Open-Question fix recorded in SPEC_FULL.md §12
// point 4.
func handleAnsKey(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 8 {
		return fmt.Errorf("%w: ANS_KEY wants 8 args", ErrProtocol)
	}
	fromName, toName, keyHex, ivHex := args[0], args[1], args[2], args[3]
	macLen, err := strconv.Atoi(args[6])
	if err != nil {
		return fmt.Errorf("%w: malformed MAC length", ErrProtocol)
	}

	if toName != ctx.Self.Name {
		to, ok := ctx.World.LookupNode(toName)
		if !ok {
			return nil
		}
		return forwardToNextHop(ctx, to, fmt.Sprintf("%d %s", mesh.ReqAnsKey, joinArgs(args)))
	}

	from, ok := ctx.World.LookupNode(fromName)
	if !ok {
		return nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("%w: malformed ANS_KEY key", ErrProtocol)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return fmt.Errorf("%w: malformed ANS_KEY iv", ErrProtocol)
	}

	newSuite := ctx.Suite
	if newSuite == nil {
		newSuite = func(encKey, encIV, decKey, decIV []byte, mac int) (*cryptosuite.Suite, error) {
			return cryptosuite.NewAESCTRSuite(encKey, encIV, decIV, mac)
		}
	}
	suite, err := newSuite(key, iv, key, iv, macLen)
	if err != nil {
		return fmt.Errorf("meta: installing data suite: %w", err)
	}
	from.DataSuite = suite
	from.State |= mesh.StateValidKey
	from.State &^= mesh.StateWaitingForKey
	return nil
}

// handleKeyChanged invalidates the cached outbound key toward from; the
// next data packet toward it triggers a fresh REQ_KEY (spec §4.2).
// KEY_CHANGED is flooded, so this only needs to update local state — the
// re-broadcast is handled by Dispatch's flood wrapper.
func handleKeyChanged(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 1)
	if !ok {
		return fmt.Errorf("%w: KEY_CHANGED wants 1 field + token", ErrProtocol)
	}
	from, ok := ctx.World.LookupNode(fields[0])
	if !ok {
		return nil
	}
	from.DataSuite = nil
	from.State &^= mesh.StateValidKey
	return nil
}

// forwardToNextHop retransmits raw toward to's current next hop,
// re-resolved on every call so a stale cached route is never used.
func forwardToNextHop(ctx *Context, to *mesh.Node, raw string) error {
	if to.NextHop == nil || to.NextHop.Conn == nil {
		return nil // no route yet; drop, the flood will retry
	}
	return Send(to.NextHop.Conn, ctx.MaxOutputBufferSize, []byte(raw+"\n"))
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
