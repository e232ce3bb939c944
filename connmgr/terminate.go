package connmgr

import (
	"github.com/drep-project/meshvpnd/mesh"
	"github.com/drep-project/meshvpnd/meta"
)

// Terminate tears down c per spec §4.6's termination semantics: mark the
// connection not-active, cancel its advertised (self,peer) edge, flood
// DEL_EDGE, free session key material, and close the socket. reason is
// used for logging only. Control connections are deliberately not
// special-cased here — that retention policy (spec §4.6 "Control
// connections are retained until final shutdown") belongs to package
// reactor's orchestration of daemon shutdown, not per-connection
// teardown.
func (m *Manager) Terminate(c *mesh.Connection, reason string) {
	c.State &^= mesh.ConnActive

	if c.Node != nil {
		if _, ok := m.World.RemoveEdge(m.Ctx.Self, c.Node); ok {
			meta.AnnounceDelEdge(m.Ctx, m.Ctx.Self, c.Node)
		}
		c.Node.Conn = nil
	}

	// The Suite's StreamCipher interface exposes no buffer to scrub
	// explicitly (crypto/cipher.NewCTR holds no exported key material);
	// dropping the reference lets the garbage collector reclaim it.
	c.Suite = nil

	m.World.RemoveConnection(c)
	c.Socket.Close()

	if m.Ctx.Log != nil {
		m.Ctx.Log.WithField("peer", c.Name).WithField("reason", reason).Info("connection terminated")
	}
}
