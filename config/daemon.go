package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drep-project/meshvpnd/connmgr"
	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/graph"
	"github.com/drep-project/meshvpnd/internal/scripts"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
	"github.com/drep-project/meshvpnd/reactor"
	"github.com/drep-project/meshvpnd/routing"
	"github.com/drep-project/meshvpnd/tunnel"
)

// Daemon bundles every collaborator built from on-disk configuration,
// ready for reactor.Reactor.Run — the bootstrap order of spec §6/§9:
// setup local node, open listeners and the data socket, wire the
// connection manager and routing engine, hand everything to the
// reactor.
type Daemon struct {
	Self   *Self
	World  *mesh.World
	Ctx    *meta.Context
	Conn   *connmgr.Manager
	Engine *routing.Engine
	Reactor *reactor.Reactor

	confbase string
}

// Load reads confbase's tinc.conf, hosts/ and private keys, and builds a
// Daemon ready to Listen and then Run. It does not open any socket or
// device yet — spec §7 "Configuration errors ... fatal at startup" means
// every parse error here should abort the process before anything is
// bound.
func Load(confbase string) (*Daemon, error) {
	self, err := LoadSelf(filepath.Join(confbase, "tinc.conf"))
	if err != nil {
		return nil, err
	}

	rsaKey, ecdsaPEM, err := LoadSelfKeys(confbase)
	if err != nil {
		return nil, err
	}

	selfNode := mesh.NewNode(self.Name)
	selfNode.PublicKeyECDSA = ecdsaPEM
	selfNode.Cipher = mesh.CipherConfig{
		Cipher:      self.Cipher,
		Digest:      self.Digest,
		MACLength:   self.MACLength,
		Compression: self.Compression,
	}
	if self.PMTUDiscovery {
		selfNode.Options |= mesh.OptionPMTUDiscovery
	}
	if self.ClampMSS {
		selfNode.Options |= mesh.OptionClampMSS
	}

	w := mesh.NewWorld(selfNode, time.Duration(self.PingTimeout)*time.Second)

	hosts, err := LoadHostsDir(confbase)
	if err != nil {
		return nil, err
	}
	for name, hf := range hosts {
		if name == self.Name {
			if err := hf.ApplyTo(confbase, w, selfNode); err != nil {
				return nil, err
			}
			continue
		}
		node := w.Node(name)
		if err := hf.ApplyTo(confbase, w, node); err != nil {
			return nil, err
		}
		w.Trust(name)
	}

	proxy, err := self.ProxyConfig()
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("node", self.Name)

	ctx := &meta.Context{
		World:               w,
		Self:                selfNode,
		SelfOptions:         selfNode.Options,
		SelfPrivateKey:      rsaKey,
		MaxOutputBufferSize: self.MaxOutputBufferSize,
		Suite:               cryptosuite.NewAESCTRSessionSuite,
		Log:                 log,
		TunnelServer:        self.TunnelServer,
	}

	conn := connmgr.NewManager(w, ctx)
	conn.PingInterval = time.Duration(self.PingInterval) * time.Second
	conn.PingTimeout = time.Duration(self.PingTimeout) * time.Second
	conn.KeyExpire = time.Duration(self.KeyExpire) * time.Second
	conn.Proxy = proxy
	for _, addr := range self.ConnectTo {
		conn.AddStatic(addr, []string{addr}, time.Duration(self.MaxTimeout)*time.Second)
	}

	engine := routing.NewEngine(w, self.RoutingMode(), self.BroadcastPolicy())
	engine.DecrementTTL = self.DecrementTTL
	if self.MACExpire > 0 {
		engine.MACExpire = time.Duration(self.MACExpire) * time.Second
	}
	if self.ClampMSS {
		engine.MaxMSS = 1400
	}
	device, err := newDevice(self.DeviceType)
	if err != nil {
		return nil, err
	}
	engine.Device = device
	w.OnReachabilityChange(engine.OnReachabilityChange)

	gcfg := graph.Config{
		Scripts:   scripts.Exec{ConfBase: confbase},
		NetName:   self.Name,
		Device:    self.Device,
		Interface: self.Interface,
	}

	r := reactor.New(ctx, w, conn, engine, gcfg)
	r.ReplayWindowBits = uint32(self.ReplayWindow)

	return &Daemon{
		Self:     self,
		World:    w,
		Ctx:      ctx,
		Conn:     conn,
		Engine:   engine,
		Reactor:  r,
		confbase: confbase,
	}, nil
}

// Listen binds (or inherits, per reactor.InheritedListeners) the meta
// TCP listeners and the UDP data socket named by BindToAddress/Port.
func (d *Daemon) Listen() error {
	addrs := d.Self.BindToAddress
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf(":%d", d.Self.Port)}
	} else {
		for i, a := range addrs {
			addrs[i] = net.JoinHostPort(a, fmt.Sprintf("%d", d.Self.Port))
		}
	}

	listeners, err := reactor.Listen(addrs)
	if err != nil {
		return err
	}
	d.Reactor.Listeners = listeners

	udpAddr, err := net.ResolveUDPAddr("udp", addrs[0])
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	if d.Self.UDPRcvBuf > 0 {
		udpConn.SetReadBuffer(d.Self.UDPRcvBuf)
	}
	if d.Self.UDPSndBuf > 0 {
		udpConn.SetWriteBuffer(d.Self.UDPSndBuf)
	}
	d.Reactor.UDPConn = udpConn

	return d.Engine.Device.Setup()
}

// newDevice selects the tunnel.Device backend named by DeviceType, spec
// §6. Only "dummy" has a concrete Go implementation in this daemon (see
// tunnel.Dummy's doc comment); every other named backend is a real OS
// integration this retrieval pack carries no library for, so it is
// reported as unsupported rather than silently downgraded to dummy.
func newDevice(deviceType string) (tunnel.Device, error) {
	switch deviceType {
	case "", "dummy":
		return tunnel.NewDummy(256), nil
	default:
		return nil, fmt.Errorf("config: DeviceType %q has no registered backend in this build", deviceType)
	}
}
