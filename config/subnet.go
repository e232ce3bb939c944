package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/netutil"
)

// ParseSubnet parses one "Subnet" host-file entry: a MAC address, an
// IPv4/IPv6 CIDR, optionally suffixed with "#weight" (tinc's own
// hosts-file convention, e.g. "10.0.0.0/24#10"). Weight defaults to 1.
func ParseSubnet(tok string) (*mesh.Subnet, error) {
	body, weight := tok, 1
	if idx := strings.IndexByte(tok, '#'); idx >= 0 {
		body = tok[:idx]
		w, err := strconv.Atoi(tok[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed subnet weight in %q", tok)
		}
		weight = w
	}

	if mac, err := net.ParseMAC(body); err == nil {
		return &mesh.Subnet{Family: netutil.FamilyMAC, MAC: mac, Weight: weight}, nil
	}

	ip, ipnet, err := net.ParseCIDR(body)
	if err != nil {
		return nil, fmt.Errorf("malformed subnet %q: %w", tok, err)
	}

	family := netutil.FamilyIPv4
	if ip.To4() == nil {
		family = netutil.FamilyIPv6
	}
	return &mesh.Subnet{Family: family, Net: ipnet, Weight: weight}, nil
}
