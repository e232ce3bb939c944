package config

import (
	"testing"

	"github.com/drep-project/meshvpnd/netutil"
)

// TestParseSubnetVariants covers spec §6's three subnet token shapes:
// MAC, IPv4 CIDR, and IPv6 CIDR, each with and without a "#weight" suffix.
func TestParseSubnetVariants(t *testing.T) {
	cases := []struct {
		tok        string
		wantFamily netutil.Family
		wantWeight int
	}{
		{"00:11:22:33:44:55", netutil.FamilyMAC, 1},
		{"00:11:22:33:44:55#5", netutil.FamilyMAC, 5},
		{"10.0.0.0/24", netutil.FamilyIPv4, 1},
		{"10.0.0.0/24#10", netutil.FamilyIPv4, 10},
		{"fd00::/64", netutil.FamilyIPv6, 1},
	}
	for _, c := range cases {
		sub, err := ParseSubnet(c.tok)
		if err != nil {
			t.Fatalf("ParseSubnet(%q): %v", c.tok, err)
		}
		if sub.Family != c.wantFamily {
			t.Fatalf("ParseSubnet(%q): family = %v, want %v", c.tok, sub.Family, c.wantFamily)
		}
		if sub.Weight != c.wantWeight {
			t.Fatalf("ParseSubnet(%q): weight = %d, want %d", c.tok, sub.Weight, c.wantWeight)
		}
	}
}

// TestParseSubnetRejectsGarbage ensures a malformed token is an error,
// not a silently zero-valued Subnet.
func TestParseSubnetRejectsGarbage(t *testing.T) {
	if _, err := ParseSubnet("not a subnet"); err == nil {
		t.Fatalf("expected an error for a malformed subnet token")
	}
}

// TestParseSubnetRejectsMalformedWeight covers the "#weight" suffix's
// own error path.
func TestParseSubnetRejectsMalformedWeight(t *testing.T) {
	if _, err := ParseSubnet("10.0.0.0/24#heavy"); err == nil {
		t.Fatalf("expected an error for a non-numeric weight suffix")
	}
}
