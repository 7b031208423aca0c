package auth

import (
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/sign/schnorr"
	"github.com/drand/kyber/util/random"
)

var keyGroup = bls.NewBLS12381Suite().G1()

type schnorrSuite struct {
	kyber.Group
}

func (s *schnorrSuite) RandomStream() cipher.Stream {
	return random.New()
}

// SchnorrScheme signs over the G1 group of BLS12-381.
var SchnorrScheme sign.Scheme = schnorr.NewScheme(&schnorrSuite{keyGroup})

// SchnorrAuthenticator verifies schnorr signatures. Identities are hex
// encoded public keys.
type SchnorrAuthenticator struct {
	scheme sign.Scheme
	group  kyber.Group
}

func NewSchnorrAuthenticator() *SchnorrAuthenticator {
	return &SchnorrAuthenticator{scheme: SchnorrScheme, group: keyGroup}
}

func (s *SchnorrAuthenticator) Verify(r *http.Request) (string, error) {
	public, signature, err := signedCredentials(r, "Schnorr")
	if err != nil {
		return "", err
	}
	if err := s.VerifyMessage(RequestMessage(r.Method, r.URL.Path), signature, public); err != nil {
		return "", err
	}
	return public, nil
}

func (s *SchnorrAuthenticator) VerifyMessage(data []byte, signature, identity string) error {
	pub, err := stringToPoint(s.group, identity)
	if err != nil {
		return fmt.Errorf("%w: malformed public key: %v", ErrInvalidAuthorization, err)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrInvalidAuthorization)
	}
	if err := s.scheme.Verify(pub, data, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	return nil
}

// SchnorrSigner signs with a kyber scalar.
type SchnorrSigner struct {
	private kyber.Scalar
	public  string
}

// NewSchnorrSigner loads a hex encoded private scalar.
func NewSchnorrSigner(privateKey string) (*SchnorrSigner, error) {
	buff, err := hex.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("loading schnorr key: %w", err)
	}
	private := keyGroup.Scalar()
	if err := private.UnmarshalBinary(buff); err != nil {
		return nil, fmt.Errorf("loading schnorr key: %w", err)
	}
	public := keyGroup.Point().Mul(private, nil)
	return &SchnorrSigner{private: private, public: pointToString(public)}, nil
}

func (s *SchnorrSigner) ParticipantID() string { return s.public }

func (s *SchnorrSigner) AuthorizationValue(method, path string) (string, error) {
	sig, err := s.SignMessage(RequestMessage(method, path))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Schnorr %s:%s", s.public, sig), nil
}

func (s *SchnorrSigner) SignMessage(data []byte) (string, error) {
	sig, err := SchnorrScheme.Sign(s.private, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// GenerateSchnorrKey returns a new hex private scalar and its public key.
func GenerateSchnorrKey() (privateKey, publicKey string, err error) {
	private, public := SchnorrScheme.NewKeyPair(random.New())
	buff, err := private.MarshalBinary()
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(buff), pointToString(public), nil
}

func pointToString(p kyber.Point) string {
	buff, _ := p.MarshalBinary()
	return hex.EncodeToString(buff)
}

func stringToPoint(g kyber.Group, s string) (kyber.Point, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	p := g.Point()
	return p, p.UnmarshalBinary(buff)
}
