package tunnel

import (
	"encoding/binary"

	"github.com/drep-project/meshvpnd/cryptosuite"
)

// Codec implements the outbound/inbound data-packet pipeline of spec
// §4.5/§6: compress -> prepend sequence number -> encrypt -> append MAC
// (outbound), and the mirrored inverse (inbound).
type Codec struct {
	Suite        *cryptosuite.Suite
	CompressLevel int
}

// Encode produces the UDP payload for payload, advancing *seq (the
// caller owns the per-direction counter per spec §3).
func (c *Codec) Encode(payload []byte, seq *uint32) ([]byte, error) {
	compressed, err := c.Suite.Compress(c.CompressLevel, payload)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4+len(compressed))
	binary.BigEndian.PutUint32(buf[:4], *seq)
	copy(buf[4:], compressed)
	*seq++

	cipherBuf := make([]byte, len(buf))
	// Sequence number travels in the clear per the wire format (spec
	// §6: "seqno (4 bytes, big-endian) || ciphertext || mac"); only the
	// payload portion is encrypted.
	copy(cipherBuf[:4], buf[:4])
	c.Suite.Encrypt.XORKeyStream(cipherBuf[4:], buf[4:])

	mac := c.Suite.MAC.Sum(cipherBuf)
	return append(cipherBuf, mac...), nil
}

// Decode validates the MAC, checks seq against window, decrypts and
// decompresses an inbound UDP datagram. window may be nil to skip replay
// checking (used only by tests exercising the codec in isolation).
func (c *Codec) Decode(datagram []byte, window *ReplayWindow, macLen int) ([]byte, error) {
	if len(datagram) < 4+macLen {
		return nil, ErrMACInvalid
	}
	body := datagram[:len(datagram)-macLen]
	tag := datagram[len(datagram)-macLen:]

	if !c.Suite.MAC.Verify(body, tag) {
		return nil, ErrMACInvalid
	}

	seq := binary.BigEndian.Uint32(body[:4])
	if window != nil && !window.Accept(seq) {
		return nil, ErrReplay
	}

	plain := make([]byte, len(body)-4)
	c.Suite.Decrypt.XORKeyStream(plain, body[4:])

	if c.CompressLevel <= 0 {
		return plain, nil
	}
	return c.Suite.Decompress(plain)
}
