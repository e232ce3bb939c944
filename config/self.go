package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/drep-project/meshvpnd/connmgr"
	"github.com/drep-project/meshvpnd/routing"
)

// Self mirrors <confbase>/tinc.conf, the host-independent half of spec
// §6's "Configuration options" list.
type Self struct {
	Name          string   `toml:"Name"`
	Port          int      `toml:"Port"`
	BindToAddress []string `toml:"BindToAddress"`
	ConnectTo     []string `toml:"ConnectTo"`

	Mode       string `toml:"Mode"`       // hub|switch|router
	Forwarding string `toml:"Forwarding"` // off|internal|kernel
	Broadcast  string `toml:"Broadcast"`  // no|mst|yes|direct

	IndirectData        bool `toml:"IndirectData"`
	TCPOnly             bool `toml:"TCPOnly"`
	DirectOnly          bool `toml:"DirectOnly"`
	LocalDiscovery      bool `toml:"LocalDiscovery"`
	PMTUDiscovery       bool `toml:"PMTUDiscovery"`
	ClampMSS            bool `toml:"ClampMSS"`
	PriorityInheritance bool `toml:"PriorityInheritance"`
	DecrementTTL        bool `toml:"DecrementTTL"`

	MACExpire           int `toml:"MACExpire"`
	MaxTimeout          int `toml:"MaxTimeout"`
	PingInterval        int `toml:"PingInterval"`
	PingTimeout         int `toml:"PingTimeout"`
	KeyExpire           int `toml:"KeyExpire"`
	MACLength           int `toml:"MACLength"`
	MaxOutputBufferSize int `toml:"MaxOutputBufferSize"`
	UDPRcvBuf           int `toml:"UDPRcvBuf"`
	UDPSndBuf           int `toml:"UDPSndBuf"`
	ReplayWindow        int `toml:"ReplayWindow"`

	Cipher      string `toml:"Cipher"`
	Digest      string `toml:"Digest"`
	Compression int    `toml:"Compression"`

	AddressFamily string `toml:"AddressFamily"` // any|IPv4|IPv6
	Hostnames     bool   `toml:"Hostnames"`
	StrictSubnets bool   `toml:"StrictSubnets"`
	TunnelServer  bool   `toml:"TunnelServer"`

	ExperimentalProtocol bool `toml:"ExperimentalProtocol"`

	// Proxy is "none|socks4|socks4a|socks5|http" followed by
	// "address[:port]" and optional "user password".
	Proxy []string `toml:"Proxy"`

	DeviceType string `toml:"DeviceType"` // dummy|raw_socket|multicast|uml|vde
	Device     string `toml:"Device"`
	Interface  string `toml:"Interface"`
}

// defaults mirrors spec §6's parenthesised default values.
func defaults() Self {
	return Self{
		Port:                655,
		MACExpire:           600,
		MaxTimeout:          900,
		PingInterval:        60,
		PingTimeout:         5,
		KeyExpire:           3600,
		MACLength:           4,
		MaxOutputBufferSize: 10 * 1500,
		ReplayWindow:        512,
		Cipher:              "blowfish",
		Digest:              "sha1",
		AddressFamily:       "any",
		Mode:                "router",
		Broadcast:           "mst",
		DeviceType:          "dummy",
	}
}

// LoadSelf decodes <confbase>/tinc.conf over defaults(), per spec §7
// "Configuration errors ... fatal at startup".
func LoadSelf(path string) (*Self, error) {
	self := defaults()
	if _, err := toml.DecodeFile(path, &self); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if self.Name == "" {
		return nil, fmt.Errorf("config: %s: Name is required", path)
	}
	return &self, nil
}

// RoutingMode maps the configured Mode string to routing.Mode, per spec
// §6/§4.4.
func (s *Self) RoutingMode() routing.Mode {
	switch s.Mode {
	case "hub":
		return routing.ModeHub
	case "switch":
		return routing.ModeSwitch
	default:
		return routing.ModeRouter
	}
}

// BroadcastPolicy maps the configured Broadcast string to
// routing.BroadcastPolicy, per spec §4.4's broadcast policies.
func (s *Self) BroadcastPolicy() routing.BroadcastPolicy {
	switch s.Broadcast {
	case "no":
		return routing.BroadcastNone
	case "direct":
		return routing.BroadcastDirect
	default:
		return routing.BroadcastMST
	}
}

// ProxyConfig parses the Proxy directive into a *connmgr.Proxy, or nil
// when Proxy is unset/"none" — spec §6 "Proxy (none|socks4|socks4a|
// socks5|http|exec <cmd>)". "exec" is not modelled: spawning an
// arbitrary command as a transport is out of scope for this daemon's
// Go rendition (no pack dependency wraps that pattern safely).
func (s *Self) ProxyConfig() (*connmgr.Proxy, error) {
	if len(s.Proxy) == 0 || s.Proxy[0] == "none" {
		return nil, nil
	}

	var kind connmgr.ProxyKind
	switch s.Proxy[0] {
	case "socks4":
		kind = connmgr.ProxySOCKS4
	case "socks4a":
		kind = connmgr.ProxySOCKS4a
	case "socks5":
		kind = connmgr.ProxySOCKS5
	case "http":
		kind = connmgr.ProxyHTTPConnect
	default:
		return nil, fmt.Errorf("config: unsupported Proxy type %q", s.Proxy[0])
	}
	if len(s.Proxy) < 2 {
		return nil, fmt.Errorf("config: Proxy %q requires an address", s.Proxy[0])
	}

	p := &connmgr.Proxy{Kind: kind, Address: s.Proxy[1]}
	if len(s.Proxy) >= 4 {
		p.Username, p.Password = s.Proxy[2], s.Proxy[3]
	}
	return p, nil
}
