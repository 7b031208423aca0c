package ceremony

import (
	"errors"
	"fmt"
)

type errorKind int

const (
	kindValidation errorKind = iota + 1
	kindConflict
	kindNotFound
)

// Error is a ceremony rule violation. Its kind decides how callers surface
// it: conflicts mean "re-read and decide again", validation errors mean the
// request can never succeed against the current document.
type Error struct {
	kind errorKind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func validation(msg string) *Error { return &Error{kind: kindValidation, msg: msg} }
func conflict(msg string) *Error   { return &Error{kind: kindConflict, msg: msg} }

// Conflict errors.
var (
	ErrChunkLocked     = conflict("chunk is locked by another participant")
	ErrVersionConflict = conflict("ceremony version is out of date")
)

// Validation errors.
var (
	ErrLockQuota              = validation("participant already holds the maximum number of locks")
	ErrNotVerified            = validation("contributors can only lock chunks whose last contribution is verified")
	ErrAlreadyContributed     = validation("participant already contributed to this chunk")
	ErrAlreadyVerified        = validation("verifiers can only lock chunks whose last contribution is unverified")
	ErrNotLockHolder          = validation("participant does not hold the lock on this chunk")
	ErrNoContributions        = validation("chunk has no contributions")
	ErrMissingVerifiedData    = validation("previous contribution carries no verification record")
	ErrMissingContributedData = validation("pending contribution carries no contribution record")
	ErrChallengeHashMismatch  = validation("challenge hash does not match the expected predecessor")
	ErrResponseHashMismatch   = validation("response hash does not match the pending contribution")
	ErrMalformedRecord        = validation("malformed signed record")
	ErrMissingLocation        = validation("missing artifact location")
	ErrAttestationIdentity    = validation("attestation address does not match the participant")
	ErrInvalidSignature       = validation("signature verification failed")
	ErrInvalidDocument        = validation("invalid ceremony document")
)

// ErrUnknownChunk is returned when no chunk has the requested identifier.
var ErrUnknownChunk = &Error{kind: kindNotFound, msg: "unknown chunk"}

func unknownChunk(chunkID string) error {
	return fmt.Errorf("%w %s", ErrUnknownChunk, chunkID)
}

// IsConflict reports whether err is a stale-state error the caller should
// resolve by re-reading the document.
func IsConflict(err error) bool {
	return hasKind(err, kindConflict)
}

// IsValidation reports whether err is a rule violation.
func IsValidation(err error) bool {
	return hasKind(err, kindValidation)
}

// IsNotFound reports whether err names an unknown chunk.
func IsNotFound(err error) bool {
	return hasKind(err, kindNotFound)
}

func hasKind(err error, kind errorKind) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.kind == kind
	}
	return false
}
