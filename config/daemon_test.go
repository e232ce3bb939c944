package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drep-project/meshvpnd/routing"
)

func writeMinimalConfbase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	tincConf := "Name = \"node1\"\nMode = \"switch\"\nBroadcast = \"no\"\n"
	if err := os.WriteFile(filepath.Join(dir, "tinc.conf"), []byte(tincConf), 0644); err != nil {
		t.Fatalf("WriteFile tinc.conf: %v", err)
	}
	writeRSAKey(t, filepath.Join(dir, "rsa_key.priv"), 0600)
	return dir
}

// TestLoadBuildsDaemonFromConfbase exercises config.Load's bootstrap
// order against a minimal on-disk confbase with no hosts/ directory and
// no peers to connect to, spec §6/§9.
func TestLoadBuildsDaemonFromConfbase(t *testing.T) {
	dir := writeMinimalConfbase(t)

	d, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Self.Name != "node1" {
		t.Fatalf("expected Self.Name = node1, got %q", d.Self.Name)
	}
	if d.World == nil || d.Ctx == nil || d.Conn == nil || d.Engine == nil || d.Reactor == nil {
		t.Fatalf("expected every Daemon collaborator to be wired, got %+v", d)
	}
	if d.Ctx.Self != d.World.Self {
		t.Fatalf("expected Ctx.Self to be the World's own self node")
	}
	if d.Engine.Mode != routing.ModeSwitch {
		t.Fatalf("expected Mode=switch to flow into the routing engine, got %v", d.Engine.Mode)
	}
	if d.Engine.Broadcast != routing.BroadcastNone {
		t.Fatalf("expected Broadcast=no to flow into the routing engine, got %v", d.Engine.Broadcast)
	}
	if d.Engine.Device == nil {
		t.Fatalf("expected the default dummy tunnel device to be wired")
	}
}

// TestLoadRejectsUnknownDeviceType ensures an unsupported DeviceType is a
// load-time error rather than a silent fallback to dummy.
func TestLoadRejectsUnknownDeviceType(t *testing.T) {
	dir := writeMinimalConfbase(t)
	f, err := os.OpenFile(filepath.Join(dir, "tinc.conf"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("DeviceType = \"raw_socket\"\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error for an unsupported DeviceType")
	}
}

// TestLoadPropagatesHostFileErrors ensures a malformed hosts/ entry aborts
// Load rather than producing a partially-initialized Daemon.
func TestLoadPropagatesHostFileErrors(t *testing.T) {
	dir := writeMinimalConfbase(t)
	hostsDir := filepath.Join(dir, "hosts")
	if err := os.MkdirAll(hostsDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	bad := "PublicKey = \"not a pem block at all\"\n"
	if err := os.WriteFile(filepath.Join(hostsDir, "peer2"), []byte(bad), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error from a hosts/ file with an invalid inline PublicKey")
	}
}
