package ceremony

// ChunksForContributor returns the chunks participantID may lock as a
// contributor right now: last contribution verified, never contributed to by
// this participant.
func ChunksForContributor(c *Ceremony, participantID string) []*Chunk {
	return filter(c, func(ch *Chunk, last *Contribution) bool {
		return last.Verified && !ch.HasContributionFrom(participantID)
	})
}

// ChunksForVerifier returns the chunks whose last contribution awaits
// verification.
func ChunksForVerifier(c *Ceremony) []*Chunk {
	return filter(c, func(_ *Chunk, last *Contribution) bool {
		return !last.Verified
	})
}

// RemainingForContributor returns every chunk participantID still has to
// contribute to, whether or not it can be locked at the moment.
func RemainingForContributor(c *Ceremony, participantID string) []*Chunk {
	return filter(c, func(ch *Chunk, _ *Contribution) bool {
		return !ch.HasContributionFrom(participantID)
	})
}

// RemainingForVerifier returns the chunks with an unverified contribution
// and the chunks some contributor has not reached yet.
func RemainingForVerifier(c *Ceremony) []*Chunk {
	return filter(c, func(ch *Chunk, last *Contribution) bool {
		if !last.Verified {
			return true
		}
		for _, id := range c.ContributorIDs {
			if !ch.HasContributionFrom(id) {
				return true
			}
		}
		return false
	})
}

// ChunksAccepting dispatches to the role's lockable-chunk query.
func ChunksAccepting(c *Ceremony, participantID string, role Role) []*Chunk {
	if role == Verifier {
		return ChunksForVerifier(c)
	}
	return ChunksForContributor(c, participantID)
}

// ChunksRemaining dispatches to the role's remaining-work query.
func ChunksRemaining(c *Ceremony, participantID string, role Role) []*Chunk {
	if role == Verifier {
		return RemainingForVerifier(c)
	}
	return RemainingForContributor(c, participantID)
}

// LockedChunks returns the chunks currently held by participantID.
func LockedChunks(c *Ceremony, participantID string) []*Chunk {
	var out []*Chunk
	for i := range c.Chunks {
		if c.Chunks[i].LockHolder == participantID {
			out = append(out, &c.Chunks[i])
		}
	}
	return out
}

// LockCount is the number of chunks held by participantID.
func LockCount(c *Ceremony, participantID string) int {
	n := 0
	for i := range c.Chunks {
		if c.Chunks[i].LockHolder == participantID {
			n++
		}
	}
	return n
}

// Complete reports whether no participant has work left.
func Complete(c *Ceremony) bool {
	return len(RemainingForVerifier(c)) == 0
}

// Unseeded chunks are never returned.
func filter(c *Ceremony, keep func(*Chunk, *Contribution) bool) []*Chunk {
	var out []*Chunk
	for i := range c.Chunks {
		ch := &c.Chunks[i]
		last := ch.LastContribution()
		if last == nil {
			continue
		}
		if keep(ch, last) {
			out = append(out, ch)
		}
	}
	return out
}
