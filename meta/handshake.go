package meta

import (
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/mesh"
)

// sessionCounter hands out the small per-connection session identifiers
// ACK carries (spec §4.2 "a small session id"). A process-wide atomic
// counter is sufficient: uniqueness only needs to hold within one
// daemon's lifetime of connections.
var sessionCounter atomicCounter

type atomicCounter struct{ n uint32 }

func (a *atomicCounter) next() uint32 { return atomic.AddUint32(&a.n, 1) }

// handshakeState is per-connection scratch used only during the ID →
// METAKEY → CHALLENGE → CHAL_REPLY → ACK sequence; discarded once ACK
// installs the session. It lives in Context.pending, not on
// mesh.Connection, because nothing outside package meta ever needs it —
// mirrors tinc keeping metakey/challenge locals in connection_t only for
// the duration of the handshake.
type handshakeState struct {
	sentID       bool
	sentMetaKey  bool
	sentChallenge bool
	initiator    bool // true if our name sorts before the peer's

	outKey, outIV   []byte // the key/IV WE generated; governs our encrypt direction
	peerKey, peerIV []byte // the key/IV the PEER generated; governs our decrypt direction
	cipherName, digestName string
	macLength, compression int

	sentChallengeBytes []byte // challenge WE generated and sent; verified against peer's CHAL_REPLY
}

func (ctx *Context) state(c *mesh.Connection) *handshakeState {
	if ctx.pending == nil {
		ctx.pending = make(map[*mesh.Connection]*handshakeState)
	}
	s, ok := ctx.pending[c]
	if !ok {
		s = &handshakeState{}
		ctx.pending[c] = s
	}
	return s
}

func (ctx *Context) dropState(c *mesh.Connection) { delete(ctx.pending, c) }

// SendID sends the initial/reply ID line, per spec §4.2 "Outgoing side
// sends ID name protocol_major.protocol_minor first; incoming side
// replies with its own ID." Called by package connmgr immediately after
// a dial completes, and by handleID for the accepting side.
func SendID(ctx *Context, c *mesh.Connection) error {
	line := fmt.Sprintf("%d %s %d.%d", mesh.ReqID, ctx.Self.Name, ProtocolMajor, ProtocolMinor)
	ctx.state(c).sentID = true
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

func handleID(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: ID wants 2 args, got %d", ErrProtocol, len(args))
	}
	name, version := args[0], args[1]
	if name == ctx.Self.Name {
		return fmt.Errorf("%w: peer claims our own name", ErrProtocol)
	}
	parts := strings.SplitN(version, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: malformed protocol version %q", ErrProtocol, version)
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return fmt.Errorf("%w: malformed protocol major", ErrProtocol)
	}

	node := ctx.World.Node(name)
	c.Name = name
	c.Node = node

	st := ctx.state(c)
	st.initiator = ctx.Self.Name < name

	if !st.sentID {
		if err := SendID(ctx, c); err != nil {
			return err
		}
	}

	if node.PublicKeyRSA == nil {
		return fmt.Errorf("%w: no public key on file for %s", ErrAuth, name)
	}

	if st.initiator {
		if err := sendMetaKey(ctx, c, node); err != nil {
			return err
		}
	}
	c.AllowRequest = mesh.ReqMetaKey
	return nil
}

// sendMetaKey generates this side's outbound symmetric key/IVs, RSA-
// encrypts them under the peer's public key, and sends METAKEY — spec
// §4.2 "METAKEY carries an RSA-encrypted random symmetric key + IV, MAC
// choice, and cipher choice."
func sendMetaKey(ctx *Context, c *mesh.Connection, node *mesh.Node) error {
	st := ctx.state(c)
	if st.sentMetaKey {
		return nil
	}

	key, err := cryptosuite.RandomKey(32)
	if err != nil {
		return fmt.Errorf("meta: generating session key: %w", err)
	}
	iv, err := cryptosuite.RandomKey(16)
	if err != nil {
		return err
	}

	pub, err := rsaPublicKey(node)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAuth, err)
	}
	payload := append(append([]byte(nil), key...), iv...)
	enc, err := rsa.EncryptPKCS1v15(cryptosuite.SecureRandom(), pub, payload)
	if err != nil {
		return fmt.Errorf("meta: RSA-encrypting METAKEY: %w", err)
	}

	st.outKey, st.outIV = key, iv
	st.cipherName, st.digestName, st.macLength, st.compression = "aes-256-ctr", "sha1", 4, 0
	st.sentMetaKey = true

	line := fmt.Sprintf("%d %s %s %s %d %d", mesh.ReqMetaKey, hex.EncodeToString(enc), st.cipherName, st.digestName, st.macLength, st.compression)
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

func rsaPublicKey(node *mesh.Node) (*rsa.PublicKey, error) {
	return cryptosuite.LoadRSAPublicKey(node.PublicKeyRSA)
}

func handleMetaKey(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("%w: METAKEY wants 5 args, got %d", ErrProtocol, len(args))
	}
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("%w: malformed METAKEY payload", ErrProtocol)
	}
	priv := ctx.SelfPrivateKey
	if priv == nil {
		return fmt.Errorf("meta: no local RSA private key configured")
	}
	payload, err := rsa.DecryptPKCS1v15(nil, priv, raw)
	if err != nil || len(payload) != 32+16 {
		return fmt.Errorf("%w: RSA-decrypting METAKEY: failed or malformed", ErrAuth)
	}

	key, iv := payload[:32], payload[32:48]
	macLen, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("%w: malformed MAC length", ErrProtocol)
	}
	compression, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("%w: malformed compression level", ErrProtocol)
	}

	// The peer generated this key to encrypt its own outbound traffic;
	// it becomes our decrypt direction. Each side runs this exchange
	// independently (spec §4.2), so the two directions never share key
	// material.
	st := ctx.state(c)
	st.peerKey, st.peerIV = key, iv
	st.cipherName, st.digestName, st.macLength, st.compression = args[1], args[2], macLen, compression

	if !st.initiator {
		if err := sendMetaKey(ctx, c, c.Node); err != nil {
			return err
		}
	}

	if !st.sentChallenge {
		if err := sendChallenge(ctx, c); err != nil {
			return err
		}
	}
	c.AllowRequest = mesh.ReqChallenge
	return nil
}

func sendChallenge(ctx *Context, c *mesh.Connection) error {
	st := ctx.state(c)
	challenge, err := cryptosuite.RandomKey(32)
	if err != nil {
		return err
	}
	pub, err := rsaPublicKey(c.Node)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAuth, err)
	}
	enc, err := rsa.EncryptPKCS1v15(cryptosuite.SecureRandom(), pub, challenge)
	if err != nil {
		return fmt.Errorf("meta: RSA-encrypting CHALLENGE: %w", err)
	}
	st.sentChallengeBytes = challenge
	st.sentChallenge = true
	line := fmt.Sprintf("%d %s", mesh.ReqChallenge, hex.EncodeToString(enc))
	return Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n"))
}

func handleChallenge(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: CHALLENGE wants 1 arg", ErrProtocol)
	}
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("%w: malformed CHALLENGE payload", ErrProtocol)
	}
	priv := ctx.SelfPrivateKey
	if priv == nil {
		return fmt.Errorf("meta: no local RSA private key configured")
	}
	plain, err := rsa.DecryptPKCS1v15(nil, priv, raw)
	if err != nil {
		return fmt.Errorf("%w: RSA-decrypting CHALLENGE", ErrAuth)
	}
	sum := sha1.Sum(plain)

	if !ctx.state(c).sentChallenge {
		if err := sendChallenge(ctx, c); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("%d %s", mesh.ReqChalReply, hex.EncodeToString(sum[:]))
	if err := Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n")); err != nil {
		return err
	}
	c.AllowRequest = mesh.ReqChalReply
	return nil
}

func handleChalReply(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: CHAL_REPLY wants 1 arg", ErrProtocol)
	}
	got, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("%w: malformed CHAL_REPLY payload", ErrProtocol)
	}
	st := ctx.state(c)
	want := sha1.Sum(st.sentChallengeBytes)
	if len(got) != len(want) || string(got) != string(want[:]) {
		return fmt.Errorf("%w: CHAL_REPLY mismatch for %s", ErrAuth, c.Name)
	}

	// Both sides send ACK as soon as they've verified the reply to their
	// own CHALLENGE — ACK is not gated on having received the peer's ACK
	// first, matching tinc's ack_h firing independently on each side.
	sessionID := sessionCounter.next()
	line := fmt.Sprintf("%d %d %d", mesh.ReqAck, sessionID, uint32(ctx.SelfOptions))
	if err := Send(c, ctx.MaxOutputBufferSize, []byte(line+"\n")); err != nil {
		return err
	}
	c.AllowRequest = mesh.ReqAck
	return nil
}

// handleAck finalises the handshake only on the side that RECEIVES the
// peer's ACK — spec §4.2 "On ACK, the connection becomes active" refers
// to processing an inbound ACK, not sending our own.
func handleAck(ctx *Context, c *mesh.Connection, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: ACK wants 2 args", ErrProtocol)
	}
	sessionID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: malformed session id", ErrProtocol)
	}
	opts, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: malformed options", ErrProtocol)
	}
	c.Node.Options = mesh.Options(opts)

	return installSession(ctx, c, uint32(sessionID))
}

// installSession finalises the handshake: builds the negotiated Suite,
// marks the connection active, adds and floods the (self,peer) edge —
// spec §4.2 "On ACK, the connection becomes active; the per-connection
// edge (self, peer) with weight = configured Weight is added and flooded
// via ADD_EDGE to all other active connections."
func installSession(ctx *Context, c *mesh.Connection, sessionID uint32) error {
	st := ctx.state(c)

	newSuite := ctx.Suite
	if newSuite == nil {
		newSuite = cryptosuite.NewAESCTRSessionSuite
	}
	suite, err := newSuite(st.outKey, st.outIV, st.peerKey, st.peerIV, st.macLength)
	if err != nil {
		return fmt.Errorf("meta: installing session suite: %w", err)
	}
	c.Suite = suite
	c.SessionID = sessionID
	c.State |= mesh.ConnActive | mesh.ConnEncryptIn | mesh.ConnEncryptOut
	c.AllowRequest = mesh.RequestALL

	weight := c.Node.Weight
	if weight == 0 {
		weight = 1
	}
	edge := &mesh.Edge{From: ctx.Self, To: c.Node, Weight: weight, Conn: c}
	ctx.World.AddEdge(edge)
	ctx.dirty()

	line := floodLine(mesh.ReqAddEdge, ctx.Self.Name, c.Node.Name, strconv.Itoa(weight), strconv.FormatUint(uint64(ctx.SelfOptions), 10))
	Broadcast(ctx.World, c, ctx.MaxOutputBufferSize, []byte(line+"\n"))

	ctx.dropState(c)
	return nil
}
