package meta

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/netutil"
)

// parseSubnetToken parses one of "mac/XX:XX:.../weight", "ipv4/cidr/weight",
// or "ipv6/cidr/weight" into a *mesh.Subnet, the wire encoding used by
// ADD_SUBNET/DEL_SUBNET. The body itself is a CIDR for ipv4/ipv6 (and so
// contains its own "/"), so only the first and last "/" are significant;
// a plain strings.Split would miscount fields for any CIDR body.
func parseSubnetToken(tok string) (*mesh.Subnet, error) {
	firstSlash := strings.IndexByte(tok, '/')
	if firstSlash < 0 {
		return nil, fmt.Errorf("%w: malformed subnet token %q", ErrProtocol, tok)
	}
	family := tok[:firstSlash]
	rest := tok[firstSlash+1:]
	lastSlash := strings.LastIndexByte(rest, '/')
	if lastSlash < 0 {
		return nil, fmt.Errorf("%w: malformed subnet token %q", ErrProtocol, tok)
	}
	body, weightStr := rest[:lastSlash], rest[lastSlash+1:]
	weight, err := strconv.Atoi(weightStr)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subnet weight in %q", ErrProtocol, tok)
	}

	switch family {
	case "mac":
		mac, err := net.ParseMAC(body)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed MAC in %q", ErrProtocol, tok)
		}
		return &mesh.Subnet{Family: netutil.FamilyMAC, MAC: mac, Weight: weight}, nil
	case "ipv4", "ipv6":
		_, ipnet, err := net.ParseCIDR(body)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed CIDR in %q", ErrProtocol, tok)
		}
		fam := netutil.FamilyIPv4
		if family == "ipv6" {
			fam = netutil.FamilyIPv6
		}
		return &mesh.Subnet{Family: fam, Net: ipnet, Weight: weight}, nil
	default:
		return nil, fmt.Errorf("%w: unknown subnet family %q", ErrProtocol, family)
	}
}

func encodeSubnetToken(s *mesh.Subnet) string {
	return fmt.Sprintf("%s/%s/%d", s.Family, s.String(), s.Weight)
}

// authorisedFor reports whether owner is a subnet/edge assertion peer c
// is allowed to make — spec §4.2 "In tunnel-server mode, a peer may only
// assert subnets/edges for itself or nodes it directly advertised;
// others are rejected as unauthorised."
func authorisedFor(ctx *Context, c *mesh.Connection, owner *mesh.Node) bool {
	if !ctx.TunnelServer {
		return true
	}
	if owner == c.Node {
		return true
	}
	if edge := ctx.World.EdgeBetween(c.Node, owner); edge != nil {
		return true
	}
	return false
}

// handleAddSubnet installs owner/token, enforcing the at-most-one-owner
// invariant and the self-authority retaliation rule (spec §4.2
// "An ADD_SUBNET whose owner is self ⇒ reply with DEL_SUBNET for that
// subnet (self is the only authority)").
func handleAddSubnet(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 2)
	if !ok {
		return fmt.Errorf("%w: ADD_SUBNET wants 2 fields + token", ErrProtocol)
	}
	ownerName, subTok := fields[0], fields[1]
	sub, err := parseSubnetToken(subTok)
	if err != nil {
		return err
	}

	owner := ctx.World.Node(ownerName)
	if owner == ctx.Self {
		return retaliateAddSubnet(ctx, c, sub)
	}
	if !authorisedFor(ctx, c, owner) {
		return fmt.Errorf("%w: %s may not assert a subnet for %s", ErrUnauthorized, c.Name, ownerName)
	}

	if existing, ok := owner.Subnets.Find(sub); ok {
		sub = existing
	} else {
		sub.LastSeen = ctx.now()
		if !ctx.World.AddSubnet(owner, sub) {
			return errSuppressFlood // already owned elsewhere; drop silently rather than flood a conflicting claim
		}
	}
	return nil
}

// retaliateAddSubnet answers a bogus self-authority claim directly on c
// and returns errSuppressFlood: per the original protocol, the
// retaliation is sent back to the sender only and the claim itself is
// never propagated further (it never reaches forward_request).
func retaliateAddSubnet(ctx *Context, c *mesh.Connection, sub *mesh.Subnet) error {
	line := floodLine(mesh.ReqDelSubnet, ctx.Self.Name, encodeSubnetToken(sub))
	if err := Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n")); err != nil {
		return err
	}
	return errSuppressFlood
}

func handleDelSubnet(ctx *Context, c *mesh.Connection, args []string) error {
	fields, ok := splitToken(args, 2)
	if !ok {
		return fmt.Errorf("%w: DEL_SUBNET wants 2 fields + token", ErrProtocol)
	}
	ownerName, subTok := fields[0], fields[1]
	sub, err := parseSubnetToken(subTok)
	if err != nil {
		return err
	}

	owner := ctx.World.Node(ownerName)
	if owner == ctx.Self {
		// Symmetric retaliation for a self-owned subnet (spec §4.2): sent
		// back to the sender only, never propagated further.
		line := floodLine(mesh.ReqAddSubnet, ctx.Self.Name, subTok)
		if err := Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n")); err != nil {
			return err
		}
		return errSuppressFlood
	}
	if !authorisedFor(ctx, c, owner) {
		return fmt.Errorf("%w: %s may not retract a subnet for %s", ErrUnauthorized, c.Name, ownerName)
	}

	if existing, ok := owner.Subnets.Find(sub); ok {
		ctx.World.RemoveSubnet(owner, existing)
	}
	return nil
}
