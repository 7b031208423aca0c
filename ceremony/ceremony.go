package ceremony

import (
	"encoding/json"
	"time"
)

// Ceremony is the single mutable document of record.
type Ceremony struct {
	Version        int64           `json:"version"`
	Round          int64           `json:"round"`
	MaxLocks       int             `json:"maxLocks"`
	ShutdownSignal bool            `json:"shutdownSignal"`
	Parameters     json.RawMessage `json:"parameters"`
	ContributorIDs []string        `json:"contributorIds"`
	VerifierIDs    []string        `json:"verifierIds"`
	Attestations   []Attestation   `json:"attestations"`
	Chunks         []Chunk         `json:"chunks"`
}

// Chunk is one independently lockable unit of work.
type Chunk struct {
	ChunkID       string         `json:"chunkId"`
	LockHolder    string         `json:"lockHolder"`
	Metadata      ChunkMetadata  `json:"metadata"`
	Contributions []Contribution `json:"contributions"`
}

// ChunkMetadata carries observability data only.
type ChunkMetadata struct {
	LockHolderTime *time.Time `json:"lockHolderTime"`
}

// Contribution is one link of a chunk's history. A contributor creates it and
// a verifier later completes it.
type Contribution struct {
	Metadata            ContributionMetadata `json:"metadata"`
	ContributorID       string               `json:"contributorId"`
	ContributedLocation string               `json:"contributedLocation"`
	ContributedData     *SignedData          `json:"contributedData,omitempty"`
	VerifierID          string               `json:"verifierId"`
	VerifiedLocation    string               `json:"verifiedLocation"`
	VerifiedData        *SignedData          `json:"verifiedData,omitempty"`
	Verified            bool                 `json:"verified"`
}

// ContributionMetadata records when each half of a link happened, paired with
// the chunk's lock holder time at that moment.
type ContributionMetadata struct {
	ContributedTime           *time.Time `json:"contributedTime"`
	ContributedLockHolderTime *time.Time `json:"contributedLockHolderTime"`
	VerifiedTime              *time.Time `json:"verifiedTime"`
	VerifiedLockHolderTime    *time.Time `json:"verifiedLockHolderTime"`
}

// SignedData is a record together with the participant's signature over the
// exact bytes of Data.
type SignedData struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// Attestation is a one-time signed statement submitted by a participant.
type Attestation struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// ChunkDownloadInfo tells a participant where the inputs of its next
// transformation live.
type ChunkDownloadInfo struct {
	ChunkID                  string `json:"chunkId"`
	LockHolder               string `json:"lockHolder"`
	Version                  int    `json:"version"`
	LastChallengeURL         string `json:"lastChallengeUrl"`
	LastResponseURL          string `json:"lastResponseUrl"`
	PreviousChallengeURL     string `json:"previousChallengeUrl"`
	LastContributionVerified bool   `json:"lastContributionVerified"`
}

// Chunk returns the chunk with the given identifier.
func (c *Ceremony) Chunk(chunkID string) (*Chunk, error) {
	for i := range c.Chunks {
		if c.Chunks[i].ChunkID == chunkID {
			return &c.Chunks[i], nil
		}
	}
	return nil, unknownChunk(chunkID)
}

// Version is the index the next entry of this chunk's history will have. It
// is used to name artifacts in storage.
func (c *Chunk) Version() int {
	return len(c.Contributions)
}

// LastContribution returns the most recent history entry, or nil for a chunk
// that was never seeded.
func (c *Chunk) LastContribution() *Contribution {
	if len(c.Contributions) == 0 {
		return nil
	}
	return &c.Contributions[len(c.Contributions)-1]
}

// HasContributionFrom reports whether participantID authored any contributor
// entry of this chunk.
func (c *Chunk) HasContributionFrom(participantID string) bool {
	for i := range c.Contributions {
		if c.Contributions[i].ContributorID == participantID {
			return true
		}
	}
	return false
}

// DownloadInfo derives the artifact locations of the chunk's current state.
func (c *Chunk) DownloadInfo() ChunkDownloadInfo {
	info := ChunkDownloadInfo{
		ChunkID:    c.ChunkID,
		LockHolder: c.LockHolder,
		Version:    c.Version(),
	}
	last := c.LastContribution()
	if last == nil {
		return info
	}
	info.LastContributionVerified = last.Verified
	if last.Verified {
		info.LastChallengeURL = last.VerifiedLocation
		info.LastResponseURL = last.ContributedLocation
		if n := len(c.Contributions); n > 1 {
			info.PreviousChallengeURL = c.Contributions[n-2].VerifiedLocation
		}
		return info
	}
	info.LastResponseURL = last.ContributedLocation
	if n := len(c.Contributions); n > 1 {
		info.LastChallengeURL = c.Contributions[n-2].VerifiedLocation
	}
	if n := len(c.Contributions); n > 2 {
		info.PreviousChallengeURL = c.Contributions[n-3].VerifiedLocation
	}
	return info
}
