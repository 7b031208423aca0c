package auth

import (
	"net/http"
)

// DummyAuthenticator trusts the participant named in the header. It is meant
// for development ceremonies only.
type DummyAuthenticator struct{}

func (DummyAuthenticator) Verify(r *http.Request) (string, error) {
	return credentials(r, "Dummy")
}

func (DummyAuthenticator) VerifyMessage([]byte, string, string) error {
	return nil
}

// DummySigner pairs with DummyAuthenticator.
type DummySigner struct {
	ID string
}

func (d DummySigner) ParticipantID() string { return d.ID }

func (d DummySigner) AuthorizationValue(string, string) (string, error) {
	return "Dummy " + d.ID, nil
}

func (d DummySigner) SignMessage([]byte) (string, error) {
	return "dummy-signature", nil
}
