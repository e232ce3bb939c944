package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writeRSAKey(t *testing.T, path string, perm os.FileMode) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), perm); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestLoadSelfKeysRejectsLoosePermissions is spec §6: "permissions must
// not exceed 0700" for private key files.
func TestLoadSelfKeysRejectsLoosePermissions(t *testing.T) {
	dir := t.TempDir()
	writeRSAKey(t, filepath.Join(dir, "rsa_key.priv"), 0644)

	if _, _, err := LoadSelfKeys(dir); err == nil {
		t.Fatalf("expected an error for a world-readable private key file")
	}
}

// TestLoadSelfKeysRSAOnly is the common case: no ecdsa_key.priv present.
func TestLoadSelfKeysRSAOnly(t *testing.T) {
	dir := t.TempDir()
	writeRSAKey(t, filepath.Join(dir, "rsa_key.priv"), 0600)

	rsaKey, ecdsaPEM, err := LoadSelfKeys(dir)
	if err != nil {
		t.Fatalf("LoadSelfKeys: %v", err)
	}
	if rsaKey == nil {
		t.Fatalf("expected a parsed RSA private key")
	}
	if ecdsaPEM != nil {
		t.Fatalf("expected no ECDSA key when ecdsa_key.priv is absent, got %d bytes", len(ecdsaPEM))
	}
}

// TestLoadSelfKeysRejectsLooseECDSAPermissions covers the optional
// ECDSA key's permission check independently of the RSA key's.
func TestLoadSelfKeysRejectsLooseECDSAPermissions(t *testing.T) {
	dir := t.TempDir()
	writeRSAKey(t, filepath.Join(dir, "rsa_key.priv"), 0600)
	if err := os.WriteFile(filepath.Join(dir, "ecdsa_key.priv"), []byte("not really a key"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := LoadSelfKeys(dir); err == nil {
		t.Fatalf("expected an error for a world-readable ecdsa_key.priv")
	}
}
