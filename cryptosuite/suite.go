// Package cryptosuite defines the crypto primitives spec.md §1 treats as
// an external collaborator ("cryptographic primitives (interface:
// symmetric cipher + MAC + compression, RSA/ECDSA sign/verify, PEM key
// I/O)"). The default implementation here adapts the standard library;
// per DESIGN.md this is a deliberate justified use of stdlib rather than
// a dropped third-party dependency, since the spec scopes the primitives
// out as pluggable and no pack dependency targets this concern any
// better than crypto/aes, crypto/rsa, crypto/ecdsa already do. The SPTPS
// fast path (spec §4.2) is not implemented — see DESIGN.md.
package cryptosuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
)

// StreamCipher is the symmetric cipher half of the meta-channel and
// data-channel crypto contract (spec §4.1/§4.5): a keystream that can be
// applied in place to outbound data as it is enqueued, matching
// EVP_EncryptUpdate's incremental, non-blocking semantics.
type StreamCipher interface {
	XORKeyStream(dst, src []byte)
}

// MAC computes and verifies a truncated message authentication code over
// sequence-number-prefixed ciphertext (spec §4.5).
type MAC interface {
	Sum(data []byte) []byte
	Verify(data, tag []byte) bool
}

// Compressor implements the negotiated compression level (0..11 in the
// wire protocol; this adapter maps levels onto flate's 0..9, see
// DESIGN.md).
type Compressor interface {
	Compress(level int, data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Suite bundles a session's negotiated cipher, MAC and compressor.
type Suite struct {
	Encrypt StreamCipher
	Decrypt StreamCipher
	MAC     MAC
	Compressor
}

// NewAESCTRSuite builds a Suite using AES-CTR for the stream cipher and
// HMAC-SHA1 truncated to macLen bytes, the default negotiated under
// Cipher="blowfish"-compatible config naming but implemented with a
// modern, still-stdlib AEAD-free stream construction (blowfish itself is
// deliberately not used: it is not in any pack go.mod and golang.org/x/
// crypto/blowfish predates Go's deprecation of the cipher for new use).
// Used for the data channel (tunnel.Codec), where a single negotiated
// key governs both directions of one sender's traffic.
func NewAESCTRSuite(key, encryptIV, decryptIV []byte, macLen int) (*Suite, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	enc := cipher.NewCTR(block, encryptIV)
	dec := cipher.NewCTR(block, decryptIV)
	return &Suite{
		Encrypt:    enc,
		Decrypt:    dec,
		MAC:        hmacSHA1{key: key, length: macLen},
		Compressor: flateCompressor{},
	}, nil
}

// NewAESCTRSessionSuite builds a Suite from two independently-negotiated
// keys, one per direction — the meta channel's METAKEY exchange runs
// once in each direction (spec §4.2), so encrypt and decrypt never share
// a key the way the data channel's single Codec does.
func NewAESCTRSessionSuite(encryptKey, encryptIV, decryptKey, decryptIV []byte, macLen int) (*Suite, error) {
	encBlock, err := aes.NewCipher(encryptKey)
	if err != nil {
		return nil, err
	}
	decBlock, err := aes.NewCipher(decryptKey)
	if err != nil {
		return nil, err
	}
	return &Suite{
		Encrypt:    cipher.NewCTR(encBlock, encryptIV),
		Decrypt:    cipher.NewCTR(decBlock, decryptIV),
		MAC:        hmacSHA1{key: encryptKey, length: macLen},
		Compressor: flateCompressor{},
	}, nil
}

type hmacSHA1 struct {
	key    []byte
	length int
}

func (h hmacSHA1) Sum(data []byte) []byte {
	mac := hmac.New(sha1.New, h.key)
	mac.Write(data)
	full := mac.Sum(nil)
	if h.length <= 0 || h.length > len(full) {
		return full
	}
	return full[:h.length]
}

func (h hmacSHA1) Verify(data, tag []byte) bool {
	return hmac.Equal(h.Sum(data), tag)
}

// RandomKey returns n cryptographically random bytes, for symmetric
// session keys and challenge nonces (spec §4.2 METAKEY/CHALLENGE).
func RandomKey(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SecureRandom returns the randomness source RSA encryption should use.
// A thin named wrapper so callers don't reach past this package for
// crypto/rand directly.
func SecureRandom() io.Reader { return rand.Reader }

// KeySigner is the RSA/ECDSA sign/verify + PEM I/O contract from spec §1.
type KeySigner interface {
	SignRSA(digest []byte) ([]byte, error)
	VerifyRSA(pub *rsa.PublicKey, digest, sig []byte) error
	SignECDSA(digest []byte) (*ecdsa.PrivateKey, []byte, error)
}

// LoadRSAPrivateKey parses a PEM-encoded PKCS1/PKCS8 RSA private key,
// matching tinc's rsa_key.priv loading (spec §6, permissions checked by
// the caller per "must not exceed 0700").
func LoadRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("cryptosuite: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("cryptosuite: PEM block is not an RSA key")
	}
	return rsaKey, nil
}

// LoadRSAPublicKey parses a PEM-encoded RSA public key (hosts/<Name>'s
// inline PublicKey or PublicKeyFile, spec §6).
func LoadRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("cryptosuite: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("cryptosuite: PEM block is not an RSA public key")
	}
	return rsaKey, nil
}
