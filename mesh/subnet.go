package mesh

import (
	"fmt"
	"net"
	"time"

	"github.com/drep-project/meshvpnd/netutil"
	"github.com/drep-project/meshvpnd/ordered"
)

// Permanent mirrors tinc's "-1 = permanent" convention for
// subnet.expires as a duration. Subnet.Expires is a time.Time, so a
// subnet that never ages out is marked with Subnet.Forever instead.
const Permanent = time.Duration(-1)

// Subnet is the tagged MAC/IPv4-CIDR/IPv6-CIDR variant from spec §3.
type Subnet struct {
	Family netutil.Family
	MAC    net.HardwareAddr
	Net    *net.IPNet // set for FamilyIPv4/FamilyIPv6

	Owner   *Node
	Weight  int
	Expires time.Time // zero value + Forever flag below means "never"
	Forever bool

	LastSeen time.Time // MAC subnets only: last time this MAC was observed locally
}

// Key returns the global-index key for s: the masked net (or MAC) plus
// prefix length plus weight, per spec §3's subnet-index invariant.
func (s *Subnet) Key() string {
	switch s.Family {
	case netutil.FamilyMAC:
		return fmt.Sprintf("mac:%s/%d", s.MAC.String(), s.Weight)
	default:
		return fmt.Sprintf("%s:%s/%d", s.Family, s.Net.String(), s.Weight)
	}
}

func (s *Subnet) String() string {
	switch s.Family {
	case netutil.FamilyMAC:
		return s.MAC.String()
	default:
		return s.Net.String()
	}
}

// Contains reports whether ip falls within an IPv4/IPv6 subnet.
func (s *Subnet) Contains(ip net.IP) bool {
	if s.Net == nil {
		return false
	}
	return s.Net.Contains(ip)
}

// PrefixLen returns the subnet's mask length, used to break longest-
// prefix-match ties in the routing engine.
func (s *Subnet) PrefixLen() int {
	if s.Net == nil {
		return 0
	}
	ones, _ := s.Net.Mask.Size()
	return ones
}

func subnetLess(a, b *Subnet) bool {
	if a.Family != b.Family {
		return a.Family < b.Family
	}
	ak, bk := a.Key(), b.Key()
	return ak < bk
}

// Subnets is the ordered set of subnets owned by one node.
type Subnets struct {
	store *ordered.Store[*Subnet]
}

func newSubnets() Subnets {
	return Subnets{store: ordered.New[*Subnet](subnetLess, nil)}
}

func (s *Subnets) add(sub *Subnet) { s.store.Insert(sub) }

func (s *Subnets) remove(sub *Subnet) bool {
	return s.store.Delete(func(x *Subnet) bool { return x == sub })
}

// Find looks up a subnet equal to candidate (same family, same network/
// MAC, same weight) already owned — tinc's lookup_subnet().
func (s Subnets) Find(candidate *Subnet) (*Subnet, bool) {
	if s.store == nil {
		return nil, false
	}
	return s.store.Find(func(x *Subnet) bool {
		return x.Key() == candidate.Key()
	})
}

// Each iterates owned subnets in key order.
func (s Subnets) Each(fn func(*Subnet) bool) {
	if s.store == nil {
		return
	}
	s.store.Each(fn)
}
