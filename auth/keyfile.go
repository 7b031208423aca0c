package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// KeyFilePerm is the permission of participant key files.
const KeyFilePerm = 0600

// KeyFile holds a participant identity on disk.
type KeyFile struct {
	Strategy string
	Private  string
	Public   string
}

// GenerateKeyFile creates a fresh identity for the named strategy.
func GenerateKeyFile(strategy string) (*KeyFile, error) {
	var private, public string
	var err error
	switch strategy {
	case StrategyEthereum:
		private, public, err = GenerateEthereumKey()
	case StrategySchnorr:
		private, public, err = GenerateSchnorrKey()
	default:
		return nil, fmt.Errorf("cannot generate keys for strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}
	return &KeyFile{Strategy: strategy, Private: private, Public: public}, nil
}

// Save writes k to path, refusing to overwrite an existing file.
func (k *KeyFile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, KeyFilePerm)
	if err != nil {
		return err
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(k)
}

// LoadKeyFile reads a key file written by Save.
func LoadKeyFile(path string) (*KeyFile, error) {
	k := new(KeyFile)
	if _, err := toml.DecodeFile(path, k); err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	return k, nil
}

// Signer builds the signer of the stored identity.
func (k *KeyFile) Signer() (Signer, error) {
	switch k.Strategy {
	case StrategyEthereum:
		return NewEthereumSigner(k.Private)
	case StrategySchnorr:
		return NewSchnorrSigner(k.Private)
	default:
		return nil, fmt.Errorf("unknown key file strategy %q", k.Strategy)
	}
}
