package mesh

import (
	"net"
	"time"

	"github.com/drep-project/meshvpnd/cryptosuite"
)

// ConnState mirrors tinc's connection_status_t / the teacher's connFlag
// bitmask (encryptin, encryptout, mst, active, pinged, control).
type ConnState uint32

const (
	ConnEncryptIn ConnState = 1 << iota
	ConnEncryptOut
	ConnMST
	ConnActive
	ConnPinged
	ConnControl
	ConnOutgoing
)

func (f ConnState) Has(flag ConnState) bool { return f&flag != 0 }

// RequestID identifies a meta-protocol verb, per spec §4.2's 18 request
// ids (ID=0 .. PACKET=17).
type RequestID int

const (
	ReqID RequestID = iota
	ReqMetaKey
	ReqChallenge
	ReqChalReply
	ReqAck
	ReqStatus
	ReqError
	ReqTermReq
	ReqPing
	ReqPong
	ReqAddSubnet
	ReqDelSubnet
	ReqAddEdge
	ReqDelEdge
	ReqKeyChanged
	ReqReqKey
	ReqAnsKey
	ReqPacket
	numRequests
)

// NumRequests is the count of defined request ids, for sizing a
// dispatch table indexed by RequestID.
const NumRequests = int(numRequests)

var requestNames = [numRequests]string{
	"ID", "METAKEY", "CHALLENGE", "CHAL_REPLY", "ACK",
	"STATUS", "ERROR", "TERMREQ",
	"PING", "PONG",
	"ADD_SUBNET", "DEL_SUBNET",
	"ADD_EDGE", "DEL_EDGE", "KEY_CHANGED", "REQ_KEY", "ANS_KEY", "PACKET",
}

// Name returns the verb's textual name for logging, matching tinc's
// request_name[] table.
func (r RequestID) Name() string {
	if r < 0 || int(r) >= len(requestNames) {
		return "UNKNOWN"
	}
	return requestNames[r]
}

// RequestALL is the "any verb accepted" sentinel allow_request value,
// used once a connection is fully authenticated (tinc's ALL).
const RequestALL RequestID = -1

// Connection is a live meta-session, per spec §3.
type Connection struct {
	Socket net.Conn

	Name     string // remote node name, once known
	Hostname string

	Options Options
	State   ConnState

	AllowRequest RequestID // next permitted verb; RequestALL once authenticated

	Node *Node // authenticated peer this connection represents, once known

	LastPingTime    time.Time
	LastFlushedTime time.Time

	// SessionID is the small negotiated session identifier carried in ACK.
	SessionID uint32

	// Inbound/outbound framing state, owned by package meta but declared
	// here because it is part of Connection's persistent state per spec
	// §3 (buflen/outbuflen etc. are Connection fields in tinc, not
	// transient locals).
	InBuf   []byte
	TCPLen  int // bytes of opaque PACKET payload still expected
	OutBuf  []byte
	OutPos  int // outbufstart

	// Suite holds the meta-channel's negotiated stream cipher, valid once
	// METAKEY/ACK (legacy) or the SPTPS key exchange (fast path)
	// completes. Nil means meta traffic on this connection is still
	// plaintext (pre-ACK).
	Suite *cryptosuite.Suite
}

// Outbound reports whether this connection was dialed by us (outgoing)
// as opposed to accepted.
func (c *Connection) Outbound() bool { return c.State.Has(ConnOutgoing) }

// IsActive reports whether the handshake has completed (ACK processed).
func (c *Connection) IsActive() bool { return c.State.Has(ConnActive) }
