package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthereumAuthenticator verifies secp256k1 personal-message signatures, the
// format produced by Celo and Ethereum wallets. Identities are account
// addresses.
type EthereumAuthenticator struct{}

func (EthereumAuthenticator) Verify(r *http.Request) (string, error) {
	address, signature, err := signedCredentials(r, "Ethereum")
	if err != nil {
		return "", err
	}
	if err := verifyEthereum(RequestMessage(r.Method, r.URL.Path), signature, address); err != nil {
		return "", err
	}
	return address, nil
}

func (EthereumAuthenticator) VerifyMessage(data []byte, signature, identity string) error {
	return verifyEthereum(data, signature, identity)
}

func verifyEthereum(message []byte, signature, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: malformed address %s", ErrInvalidAuthorization, address)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrInvalidAuthorization)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return fmt.Errorf("%w: signature does not match %s", ErrInvalidAuthorization, address)
	}
	return nil
}

// EthereumSigner signs with a secp256k1 private key.
type EthereumSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewEthereumSigner loads a hex encoded private key, with or without 0x.
func NewEthereumSigner(privateKey string) (*EthereumSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("loading ethereum key: %w", err)
	}
	return &EthereumSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

func (e *EthereumSigner) ParticipantID() string { return e.address }

func (e *EthereumSigner) AuthorizationValue(method, path string) (string, error) {
	sig, err := e.SignMessage(RequestMessage(method, path))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ethereum %s:%s", e.address, sig), nil
}

func (e *EthereumSigner) SignMessage(data []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), e.key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// GenerateEthereumKey returns a new hex private key and its address.
func GenerateEthereumKey() (privateKey, address string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
