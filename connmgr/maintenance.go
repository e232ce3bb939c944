package connmgr

import (
	"time"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
)

// Tick runs one round of spec §4.6's periodic timers: ping active
// connections due for one, terminate connections that didn't answer a
// prior ping within PingTimeout, regenerate the local data key and flood
// KEY_CHANGED if KeyExpire has elapsed, and age the flood-dedup cache.
// MAC-table and subnet-expiry reaping are separate hooks owned by
// packages routing and mesh respectively.
func (m *Manager) Tick(now time.Time) {
	m.pingDue(now)
	m.regenerateKeyIfDue(now)
	meta.AgePastRequests(m.Ctx, now)
}

// pingDue implements spec §4.6's PingInterval/PingTimeout pair: "for
// each active connection whose last_ping_time + PingInterval < now, send
// PING and set pinged" and "if pinged && last_ping_time + PingTimeout <
// now, terminate the connection."
func (m *Manager) pingDue(now time.Time) {
	for _, c := range m.World.ActiveConnections() {
		if c.State.Has(mesh.ConnPinged) {
			if c.LastPingTime.Add(m.PingTimeout).Before(now) {
				m.Terminate(c, "ping timeout")
			}
			continue
		}
		if c.LastPingTime.Add(m.PingInterval).Before(now) {
			m.sendPing(c, now)
		}
	}
}

func (m *Manager) sendPing(c *mesh.Connection, now time.Time) {
	if err := meta.Ping(m.Ctx, c); err != nil {
		m.Terminate(c, "ping send failed")
		return
	}
	c.LastPingTime = now
	c.State |= mesh.ConnPinged
}

// regenerateKeyIfDue implements spec §4.6 "KeyExpire (default 3600s):
// regenerate local symmetric key, flood KEY_CHANGED."
func (m *Manager) regenerateKeyIfDue(now time.Time) {
	if m.KeyExpire <= 0 {
		return
	}
	if !m.lastKeyRegen.IsZero() && now.Sub(m.lastKeyRegen) < m.KeyExpire {
		return
	}
	self := m.Ctx.Self

	key, err := cryptosuite.RandomKey(32)
	if err != nil {
		return
	}
	iv, err := cryptosuite.RandomKey(16)
	if err != nil {
		return
	}
	self.DataKeyIn, self.DataKeyInIV = key, iv
	m.lastKeyRegen = now

	meta.AnnounceKeyChanged(m.Ctx)
}
