// Package config decodes the on-disk layout of spec §6: a host-
// independent tinc.conf-equivalent file plus one per-peer host file
// under hosts/<Name>, both TOML (grounded on the teacher's own TOML use
// — see DESIGN.md), and loads the local RSA/ECDSA key material those
// files reference.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/drep-project/meshvpnd/cryptosuite"
	"github.com/drep-project/meshvpnd/mesh"
)

// HostFile mirrors spec §6's "<confbase>/hosts/<Name>" per-peer file:
// "options and either PublicKey/ECDSAPublicKey inline or
// PublicKeyFile/ECDSAPublicKeyFile path; may include Subnet, Address,
// Port, Weight, IndirectData, TCPOnly, Cipher, Digest, MACLength,
// Compression."
type HostFile struct {
	PublicKey        string `toml:"PublicKey"`
	PublicKeyFile    string `toml:"PublicKeyFile"`
	ECDSAPublicKey   string `toml:"ECDSAPublicKey"`
	ECDSAPublicKeyFile string `toml:"ECDSAPublicKeyFile"`

	Subnet []string `toml:"Subnet"`
	Address string  `toml:"Address"`
	Port    int     `toml:"Port"`
	Weight  int     `toml:"Weight"`

	IndirectData bool `toml:"IndirectData"`
	TCPOnly      bool `toml:"TCPOnly"`

	Cipher      string `toml:"Cipher"`
	Digest      string `toml:"Digest"`
	MACLength   int    `toml:"MACLength"`
	Compression int    `toml:"Compression"`
}

// LoadHostFile decodes one hosts/<Name> file at path.
func LoadHostFile(path string) (*HostFile, error) {
	var hf HostFile
	if _, err := toml.DecodeFile(path, &hf); err != nil {
		return nil, fmt.Errorf("config: decoding host file %s: %w", path, err)
	}
	return &hf, nil
}

// LoadHostsDir decodes every file under <confbase>/hosts/ into a
// name->HostFile map, keyed by file name (the peer's Name).
func LoadHostsDir(confbase string) (map[string]*HostFile, error) {
	dir := filepath.Join(confbase, "hosts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*HostFile{}, nil
		}
		return nil, fmt.Errorf("config: reading hosts dir %s: %w", dir, err)
	}

	out := make(map[string]*HostFile, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		hf, err := LoadHostFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = hf
	}
	return out, nil
}

// rsaPublicKeyPEM resolves hf's RSA public key PEM bytes, inline or from
// its referenced file, relative to confbase. Validated (not just stored)
// so a malformed host file fails at load time rather than at the first
// handshake attempt.
func (hf *HostFile) rsaPublicKeyPEM(confbase string) ([]byte, error) {
	pemBytes, err := hf.resolveKeyMaterial(confbase, hf.PublicKey, hf.PublicKeyFile)
	if err != nil || pemBytes == nil {
		return pemBytes, err
	}
	if _, err := cryptosuite.LoadRSAPublicKey(pemBytes); err != nil {
		return nil, fmt.Errorf("config: invalid RSA public key: %w", err)
	}
	return pemBytes, nil
}

// ecdsaPublicKey resolves hf's ECDSA public key (SPTPS fast path, spec
// §4.2), returning nil with no error when the host file carries none —
// legacy RSA-only peers are still valid.
func (hf *HostFile) ecdsaPublicKey(confbase string) ([]byte, error) {
	return hf.resolveKeyMaterial(confbase, hf.ECDSAPublicKey, hf.ECDSAPublicKeyFile)
}

func (hf *HostFile) resolveKeyMaterial(confbase, inline, file string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(confbase, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading key file %s: %w", path, err)
	}
	return data, nil
}

// ApplyTo populates node with hf's fields, installing subnets into w as
// owned by node — spec §6's host-file-defines-peer-state contract. Used
// both at startup (every hosts/ file is a trusted, pre-seeded node) and
// never again afterward: subsequent changes flow only through ADD_EDGE/
// ADD_SUBNET floods, per spec §4.2.
func (hf *HostFile) ApplyTo(confbase string, w *mesh.World, node *mesh.Node) error {
	if hf.PublicKey != "" || hf.PublicKeyFile != "" {
		pemBytes, err := hf.rsaPublicKeyPEM(confbase)
		if err != nil {
			return err
		}
		node.PublicKeyRSA = pemBytes
	}
	if ecdsa, err := hf.ecdsaPublicKey(confbase); err != nil {
		return err
	} else if ecdsa != nil {
		node.PublicKeyECDSA = ecdsa
	}

	node.Hostname = hf.Address
	if hf.Weight > 0 {
		node.Weight = hf.Weight
	}
	node.Cipher = mesh.CipherConfig{
		Cipher:      hf.Cipher,
		Digest:      hf.Digest,
		MACLength:   hf.MACLength,
		Compression: hf.Compression,
	}
	if hf.IndirectData {
		node.Options |= mesh.OptionIndirectData
	}
	if hf.TCPOnly {
		node.Options |= mesh.OptionTCPOnly
	}

	for _, tok := range hf.Subnet {
		sub, err := ParseSubnet(tok)
		if err != nil {
			return fmt.Errorf("config: host %s: %w", node.Name, err)
		}
		sub.Owner = node
		w.AddSubnet(node, sub)
	}
	return nil
}
