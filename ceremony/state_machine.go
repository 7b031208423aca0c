package ceremony

import (
	"encoding/json"
	"fmt"
	"time"
)

// Lock tries to give participantID exclusive access to the chunk. held is the
// number of chunks the participant already holds.
//
// Lock returns false without error when the participant already holds this
// chunk. Any other refusal is an error.
func (c *Chunk) Lock(participantID string, role Role, held, maxLocks int, now time.Time) (bool, error) {
	if c.LockHolder == participantID {
		return false, nil
	}
	if c.LockHolder != "" {
		return false, fmt.Errorf("%w: chunk %s held by %s", ErrChunkLocked, c.ChunkID, c.LockHolder)
	}
	if held >= maxLocks {
		return false, fmt.Errorf("%w: %s holds %d of %d", ErrLockQuota, participantID, held, maxLocks)
	}
	last := c.LastContribution()
	if last == nil {
		return false, fmt.Errorf("%w: chunk %s", ErrNoContributions, c.ChunkID)
	}
	switch role {
	case Contributor:
		if !last.Verified {
			return false, fmt.Errorf("%w: chunk %s", ErrNotVerified, c.ChunkID)
		}
		if c.HasContributionFrom(participantID) {
			return false, fmt.Errorf("%w: chunk %s", ErrAlreadyContributed, c.ChunkID)
		}
	case Verifier:
		if last.Verified {
			return false, fmt.Errorf("%w: chunk %s", ErrAlreadyVerified, c.ChunkID)
		}
	}

	c.LockHolder = participantID
	c.Metadata.LockHolderTime = stamp(now)
	return true, nil
}

// Unlock releases the chunk. Only the current holder may do so, whatever the
// state of the chunk's history.
func (c *Chunk) Unlock(participantID string, now time.Time) error {
	if c.LockHolder == "" || c.LockHolder != participantID {
		return fmt.Errorf("%w: %s on chunk %s", ErrNotLockHolder, participantID, c.ChunkID)
	}
	c.release(now)
	return nil
}

// RecordContribution appends a contributor's link to the chunk. The record's
// challenge hash must equal the new challenge hash the previous verifier
// signed.
func (c *Chunk) RecordContribution(participantID, location string, signed *SignedData, now time.Time) error {
	if err := c.checkHolder(participantID, location); err != nil {
		return err
	}
	rec, err := ParseContributionRecord(signed)
	if err != nil {
		return err
	}
	prev := c.LastContribution()
	if prev == nil {
		return fmt.Errorf("%w: chunk %s", ErrNoContributions, c.ChunkID)
	}
	if !prev.Verified {
		return fmt.Errorf("%w: chunk %s", ErrNotVerified, c.ChunkID)
	}
	if prev.VerifiedData == nil {
		return fmt.Errorf("%w: chunk %s", ErrMissingVerifiedData, c.ChunkID)
	}
	prevRec, err := ParseVerificationRecord(prev.VerifiedData)
	if err != nil {
		return fmt.Errorf("%w: chunk %s: %v", ErrMissingVerifiedData, c.ChunkID, err)
	}
	if rec.ChallengeHash != prevRec.NewChallengeHash {
		return fmt.Errorf("%w: chunk %s: got %s, expected %s",
			ErrChallengeHashMismatch, c.ChunkID, rec.ChallengeHash, prevRec.NewChallengeHash)
	}

	c.Contributions = append(c.Contributions, Contribution{
		Metadata: ContributionMetadata{
			ContributedTime:           stamp(now),
			ContributedLockHolderTime: c.Metadata.LockHolderTime,
		},
		ContributorID:       participantID,
		ContributedLocation: location,
		ContributedData:     cloneSigned(signed),
		Verified:            false,
	})
	c.release(now)
	return nil
}

// RecordVerification completes the pending link. The verifier must attest to
// exactly the challenge and response hashes the contributor submitted.
func (c *Chunk) RecordVerification(participantID, location string, signed *SignedData, now time.Time) error {
	if err := c.checkHolder(participantID, location); err != nil {
		return err
	}
	rec, err := ParseVerificationRecord(signed)
	if err != nil {
		return err
	}
	last := c.LastContribution()
	if last == nil {
		return fmt.Errorf("%w: chunk %s", ErrNoContributions, c.ChunkID)
	}
	if last.Verified {
		return fmt.Errorf("%w: chunk %s", ErrAlreadyVerified, c.ChunkID)
	}
	if last.ContributedData == nil {
		return fmt.Errorf("%w: chunk %s", ErrMissingContributedData, c.ChunkID)
	}
	pending, err := ParseContributionRecord(last.ContributedData)
	if err != nil {
		return fmt.Errorf("%w: chunk %s: %v", ErrMissingContributedData, c.ChunkID, err)
	}
	if pending.ChallengeHash != rec.ChallengeHash {
		return fmt.Errorf("%w: chunk %s: got %s, expected %s",
			ErrChallengeHashMismatch, c.ChunkID, rec.ChallengeHash, pending.ChallengeHash)
	}
	if pending.ResponseHash != rec.ResponseHash {
		return fmt.Errorf("%w: chunk %s: got %s, expected %s",
			ErrResponseHashMismatch, c.ChunkID, rec.ResponseHash, pending.ResponseHash)
	}

	last.VerifierID = participantID
	last.VerifiedLocation = location
	last.VerifiedData = cloneSigned(signed)
	last.Verified = true
	last.Metadata.VerifiedTime = stamp(now)
	last.Metadata.VerifiedLockHolderTime = c.Metadata.LockHolderTime
	c.release(now)
	return nil
}

// Record dispatches to RecordContribution or RecordVerification.
func (c *Chunk) Record(role Role, participantID, location string, signed *SignedData, now time.Time) error {
	if role == Verifier {
		return c.RecordVerification(participantID, location, signed, now)
	}
	return c.RecordContribution(participantID, location, signed, now)
}

// AddAttestation registers a participant's attestation. It returns false if
// the participant already attested.
func (c *Ceremony) AddAttestation(a Attestation, participantID string) (bool, error) {
	if a.Address != participantID {
		return false, fmt.Errorf("%w: %s submitted for %s", ErrAttestationIdentity, participantID, a.Address)
	}
	for i := range c.Attestations {
		if c.Attestations[i].Address == participantID {
			return false, nil
		}
	}
	c.Attestations = append(c.Attestations, a)
	return true, nil
}

func (c *Chunk) checkHolder(participantID, location string) error {
	if c.LockHolder == "" || c.LockHolder != participantID {
		return fmt.Errorf("%w: %s on chunk %s", ErrNotLockHolder, participantID, c.ChunkID)
	}
	if location == "" {
		return ErrMissingLocation
	}
	return nil
}

func (c *Chunk) release(now time.Time) {
	c.LockHolder = ""
	c.Metadata.LockHolderTime = stamp(now)
}

func stamp(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func cloneSigned(sd *SignedData) *SignedData {
	data := make(json.RawMessage, len(sd.Data))
	copy(data, sd.Data)
	return &SignedData{Data: data, Signature: sd.Signature}
}
