package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drep-project/meshvpnd/cryptosuite"
)

// LoadSelfKeys reads <confbase>/rsa_key.priv and, if present,
// <confbase>/ecdsa_key.priv (spec §6: "own private keys (PEM);
// permissions must not exceed 0700"). The ECDSA key is read and
// permission-checked but not yet wired into any handshake path — see
// DESIGN.md's note that the SPTPS/ECDSA fast path (spec §4.2) is not
// implemented; legacy RSA is the only handshake this daemon speaks.
func LoadSelfKeys(confbase string) (*rsa.PrivateKey, []byte, error) {
	rsaPath := filepath.Join(confbase, "rsa_key.priv")
	rsaPEM, err := readPrivateKeyFile(rsaPath)
	if err != nil {
		return nil, nil, err
	}
	rsaKey, err := cryptosuite.LoadRSAPrivateKey(rsaPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", rsaPath, err)
	}

	ecdsaPath := filepath.Join(confbase, "ecdsa_key.priv")
	ecdsaPEM, err := os.ReadFile(ecdsaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return rsaKey, nil, nil
		}
		return nil, nil, fmt.Errorf("config: reading %s: %w", ecdsaPath, err)
	}
	if err := checkPrivateKeyPermissions(ecdsaPath); err != nil {
		return nil, nil, err
	}
	return rsaKey, ecdsaPEM, nil
}

func readPrivateKeyFile(path string) ([]byte, error) {
	if err := checkPrivateKeyPermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return data, nil
}

// checkPrivateKeyPermissions enforces spec §6 "permissions must not
// exceed 0700" for private key files.
func checkPrivateKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Mode().Perm()&^0700 != 0 {
		return fmt.Errorf("config: %s permissions %#o exceed 0700", path, info.Mode().Perm())
	}
	return nil
}
