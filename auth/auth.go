// Package auth identifies the participant behind a request and verifies the
// signatures participants put on their records. Strategies are selected by the
// scheme of the Authorization header:
//
//	Authorization: Dummy <participant>
//	Authorization: Ethereum <address>:<signature>
//	Authorization: Schnorr <public key>:<signature>
//
// Signed strategies sign the lowercased "<method> <path>" of the request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// Strategy names.
const (
	StrategyDummy    = "dummy"
	StrategyEthereum = "ethereum"
	StrategySchnorr  = "schnorr"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrMissingCredentials   = errors.New("missing authorization credentials")
	ErrInvalidAuthorization = errors.New("invalid authorization")
	ErrForbidden            = errors.New("not authorized")
)

// Authenticator is the server side of an authentication strategy.
type Authenticator interface {
	// Verify returns the participant identified by the request.
	Verify(r *http.Request) (string, error)
	// VerifyMessage checks that identity signed data.
	VerifyMessage(data []byte, signature, identity string) error
}

// Signer is the participant side of an authentication strategy.
type Signer interface {
	ParticipantID() string
	// AuthorizationValue is the Authorization header of a request.
	AuthorizationValue(method, path string) (string, error)
	SignMessage(data []byte) (string, error)
}

// New returns the authenticator of the named strategy.
func New(strategy string) (Authenticator, error) {
	switch strings.ToLower(strategy) {
	case StrategyDummy:
		return &DummyAuthenticator{}, nil
	case StrategyEthereum:
		return &EthereumAuthenticator{}, nil
	case StrategySchnorr:
		return NewSchnorrAuthenticator(), nil
	default:
		return nil, fmt.Errorf("unknown authentication strategy %q", strategy)
	}
}

// Authorize succeeds if participantID belongs to one of the named groups of
// the live document.
func Authorize(doc *ceremony.Ceremony, participantID string, groups ...string) error {
	for _, group := range groups {
		if doc.InGroup(group, participantID) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not in %s", ErrForbidden, participantID, strings.Join(groups, ", "))
}

// RequestMessage is the message signed to authenticate a request.
func RequestMessage(method, path string) []byte {
	return []byte(strings.ToLower(method) + " " + strings.ToLower(path))
}

// credentials extracts the part of the Authorization header following the
// expected scheme.
func credentials(r *http.Request, scheme string) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	kind, creds, _ := strings.Cut(header, " ")
	if !strings.EqualFold(kind, scheme) {
		return "", fmt.Errorf("%w: unexpected authorization type %s", ErrInvalidAuthorization, kind)
	}
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return "", ErrMissingCredentials
	}
	return creds, nil
}

// signedCredentials splits "<identity>:<signature>".
func signedCredentials(r *http.Request, scheme string) (string, string, error) {
	creds, err := credentials(r, scheme)
	if err != nil {
		return "", "", err
	}
	identity, signature, ok := strings.Cut(creds, ":")
	if !ok || identity == "" || signature == "" {
		return "", "", ErrMissingCredentials
	}
	return identity, signature, nil
}
