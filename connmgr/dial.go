package connmgr

import (
	"context"
	"fmt"
	"net"

	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
)

// DialEntry attempts each of e's configured addresses in order, via the
// configured proxy if any, until one succeeds; on success it registers a
// new outgoing mesh.Connection and sends the initial ID line (spec §4.2
// "Outgoing side sends ID ... first"), resetting the entry's backoff. On
// total failure it advances the entry's backoff and returns the error of
// the *last* attempted address, spec §4.6.
func (m *Manager) DialEntry(ctx context.Context, e *Entry) (*mesh.Connection, error) {
	if m.DialLimiter != nil && !m.DialLimiter.Allow() {
		return nil, fmt.Errorf("connmgr: dial rate limit exceeded for %s", e.Name)
	}
	e.dialing = true

	var lastErr error
	for _, addr := range e.Addresses {
		conn, err := m.dialOne(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}

		c := &mesh.Connection{Socket: conn, Hostname: addr}
		c.State |= mesh.ConnOutgoing
		m.World.AddConnection(c)

		if err := meta.SendID(m.Ctx, c); err != nil {
			conn.Close()
			m.World.RemoveConnection(c)
			lastErr = err
			continue
		}

		e.backoffSuccess()
		if m.OnDialSuccess != nil {
			m.OnDialSuccess(e.Name, conn)
		}
		return c, nil
	}

	e.backoffFailure(m.now())
	if m.OnDialFailure != nil {
		m.OnDialFailure(e.Name, lastErr)
	}
	return nil, lastErr
}

// dialOne opens one TCP connection, routing it through the configured
// proxy if any, per spec §4.6 "SOCKS4/4a/5 and HTTP CONNECT proxy types
// are supported: the handshake bytes are sent as soon as the TCP connect
// completes."
func (m *Manager) dialOne(ctx context.Context, addr string) (net.Conn, error) {
	if m.Proxy == nil {
		return m.Dial(ctx, "tcp", addr)
	}

	raw, err := m.Dial(ctx, "tcp", m.Proxy.Address)
	if err != nil {
		return nil, fmt.Errorf("connmgr: dialing proxy %s: %w", m.Proxy.Address, err)
	}
	if err := proxyHandshake(ctx, raw, *m.Proxy, addr); err != nil {
		raw.Close()
		return nil, err
	}
	return raw, nil
}
