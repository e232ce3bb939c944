package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drep-project/meshvpnd/mesh"
)

const testHostTOML = `
PublicKey = "-----BEGIN TESTKEY-----\nnotarealkey\n-----END TESTKEY-----"
Address = "203.0.113.5"
Port = 655
Weight = 3
Subnet = ["10.1.0.0/24", "00:11:22:33:44:55"]
Cipher = "aes-256-ctr"
Digest = "sha1"
MACLength = 10
Compression = 6
`

// TestLoadHostFileDecodesFields exercises LoadHostFile's TOML decoding
// against the per-peer file shape from spec §6.
func TestLoadHostFileDecodesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer1")
	if err := os.WriteFile(path, []byte(testHostTOML), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	hf, err := LoadHostFile(path)
	if err != nil {
		t.Fatalf("LoadHostFile: %v", err)
	}
	if hf.Address != "203.0.113.5" || hf.Port != 655 || hf.Weight != 3 {
		t.Fatalf("unexpected decoded fields: %+v", hf)
	}
	if len(hf.Subnet) != 2 {
		t.Fatalf("expected 2 subnet entries, got %d", len(hf.Subnet))
	}
}

// TestLoadHostsDirMissingIsEmpty mirrors spec §6's lenient handling of a
// daemon with no configured peers yet.
func TestLoadHostsDirMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	hosts, err := LoadHostsDir(dir)
	if err != nil {
		t.Fatalf("LoadHostsDir: %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected no hosts for a missing hosts/ dir, got %d", len(hosts))
	}
}

// TestLoadHostsDirDecodesEachFile checks every file under hosts/ is
// decoded and keyed by file name.
func TestLoadHostsDirDecodesEachFile(t *testing.T) {
	dir := t.TempDir()
	hostsDir := filepath.Join(dir, "hosts")
	if err := os.MkdirAll(hostsDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hostsDir, "peer1"), []byte(testHostTOML), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	hosts, err := LoadHostsDir(dir)
	if err != nil {
		t.Fatalf("LoadHostsDir: %v", err)
	}
	if _, ok := hosts["peer1"]; !ok {
		t.Fatalf("expected peer1 keyed in the decoded hosts map, got %v", hosts)
	}
}

// TestApplyToInstallsSubnetsAndWeight checks ApplyTo's non-key fields
// against a fresh Node/World (no PublicKey is set here;
// TestApplyToRejectsInvalidInlinePublicKey covers a malformed key).
func TestApplyToInstallsSubnetsAndWeight(t *testing.T) {
	hf := &HostFile{
		Address: "203.0.113.5",
		Weight:  7,
		Subnet:  []string{"10.1.0.0/24"},
		Cipher:  "aes-256-ctr",
	}
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)
	node := w.Node("peer1")

	if err := hf.ApplyTo(t.TempDir(), w, node); err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if node.Weight != 7 {
		t.Fatalf("expected weight 7, got %d", node.Weight)
	}
	if node.Hostname != "203.0.113.5" {
		t.Fatalf("expected hostname set from Address, got %q", node.Hostname)
	}
	count := 0
	node.Subnets.Each(func(*mesh.Subnet) bool { count++; return true })
	if count != 1 {
		t.Fatalf("expected 1 subnet installed, got %d", count)
	}
}

// TestApplyToRejectsInvalidInlinePublicKey ensures a malformed inline
// RSA key fails at load time rather than surfacing later at handshake.
func TestApplyToRejectsInvalidInlinePublicKey(t *testing.T) {
	hf := &HostFile{PublicKey: "not a pem block at all"}
	self := mesh.NewNode("self")
	w := mesh.NewWorld(self, time.Minute)
	node := w.Node("peer1")

	if err := hf.ApplyTo(t.TempDir(), w, node); err == nil {
		t.Fatalf("expected an error for a malformed inline PublicKey")
	}
}
