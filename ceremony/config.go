package ceremony

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// DefaultMaxLocks applies when a configuration does not set a quota.
const DefaultMaxLocks = 1

// ReadConfig decodes a starting configuration and fills the fields a
// configuration may omit.
func ReadConfig(r io.Reader) (*Ceremony, error) {
	var c Ceremony
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding ceremony configuration: %w", err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Normalize fills defaults in place.
func (c *Ceremony) Normalize() {
	if c.MaxLocks <= 0 {
		c.MaxLocks = DefaultMaxLocks
	}
	if len(c.Parameters) == 0 || string(c.Parameters) == "null" {
		c.Parameters = json.RawMessage(`{}`)
	}
	if c.ContributorIDs == nil {
		c.ContributorIDs = []string{}
	}
	if c.VerifierIDs == nil {
		c.VerifierIDs = []string{}
	}
	if c.Attestations == nil {
		c.Attestations = []Attestation{}
	}
	if c.Chunks == nil {
		c.Chunks = []Chunk{}
	}
	for i := range c.Chunks {
		if c.Chunks[i].Contributions == nil {
			c.Chunks[i].Contributions = []Contribution{}
		}
	}
}

// Validate checks the structural invariants of a document: unique chunk
// identifiers and lock holders that are known participants.
func (c *Ceremony) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Chunks))
	for i := range c.Chunks {
		ch := &c.Chunks[i]
		if ch.ChunkID == "" {
			result = multierror.Append(result, fmt.Errorf("chunk %d has no id", i))
			continue
		}
		if seen[ch.ChunkID] {
			result = multierror.Append(result, fmt.Errorf("duplicate chunk id %s", ch.ChunkID))
		}
		seen[ch.ChunkID] = true
		if ch.LockHolder != "" && !c.IsParticipant(ch.LockHolder) {
			result = multierror.Append(result, fmt.Errorf("chunk %s is locked by unknown participant %s", ch.ChunkID, ch.LockHolder))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}
