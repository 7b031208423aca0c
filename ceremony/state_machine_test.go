package ceremony

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	verified := func() *Chunk {
		return &Chunk{ChunkID: "1", Contributions: []Contribution{genesis(t, "c1")}}
	}
	pending := func() *Chunk {
		ch := verified()
		ch.Contributions = append(ch.Contributions, Contribution{ContributorID: "frank"})
		return ch
	}

	tests := []struct {
		name        string
		chunk       *Chunk
		participant string
		role        Role
		held        int
		maxLocks    int
		locked      bool
		expected    error
	}{
		{
			name:        "contributor locks verified chunk",
			chunk:       verified(),
			participant: "frank",
			role:        Contributor,
			maxLocks:    1,
			locked:      true,
		},
		{
			name: "relocking an own chunk is a no-op",
			chunk: func() *Chunk {
				ch := verified()
				ch.LockHolder = "frank"
				return ch
			}(),
			participant: "frank",
			role:        Contributor,
			held:        1,
			maxLocks:    1,
			locked:      false,
		},
		{
			name: "chunk held by somebody else",
			chunk: func() *Chunk {
				ch := verified()
				ch.LockHolder = "becky"
				return ch
			}(),
			participant: "frank",
			role:        Contributor,
			maxLocks:    1,
			expected:    ErrChunkLocked,
		},
		{
			name:        "quota reached",
			chunk:       verified(),
			participant: "frank",
			role:        Contributor,
			held:        2,
			maxLocks:    2,
			expected:    ErrLockQuota,
		},
		{
			name:        "contributor cannot lock unverified chunk",
			chunk:       pending(),
			participant: "becky",
			role:        Contributor,
			maxLocks:    1,
			expected:    ErrNotVerified,
		},
		{
			name: "contributor never revisits a chunk",
			chunk: func() *Chunk {
				ch := pending()
				ch.Contributions[1].Verified = true
				return ch
			}(),
			participant: "frank",
			role:        Contributor,
			maxLocks:    1,
			expected:    ErrAlreadyContributed,
		},
		{
			name:        "verifier locks unverified chunk",
			chunk:       pending(),
			participant: "v0",
			role:        Verifier,
			maxLocks:    1,
			locked:      true,
		},
		{
			name:        "verifier cannot lock verified chunk",
			chunk:       verified(),
			participant: "v0",
			role:        Verifier,
			maxLocks:    1,
			expected:    ErrAlreadyVerified,
		},
		{
			name:        "unseeded chunk",
			chunk:       &Chunk{ChunkID: "9"},
			participant: "frank",
			role:        Contributor,
			maxLocks:    1,
			expected:    ErrNoContributions,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			before := test.chunk.LockHolder
			locked, err := test.chunk.Lock(test.participant, test.role, test.held, test.maxLocks, now)
			if test.expected != nil {
				require.ErrorIs(t, err, test.expected)
				require.False(t, locked)
				require.Equal(t, before, test.chunk.LockHolder)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.locked, locked)
			require.Equal(t, test.participant, test.chunk.LockHolder)
			if test.locked {
				require.NotNil(t, test.chunk.Metadata.LockHolderTime)
			}
		})
	}
}

func TestLockErrorClasses(t *testing.T) {
	ch := &Chunk{ChunkID: "1", LockHolder: "becky", Contributions: []Contribution{genesis(t, "c1")}}
	_, err := ch.Lock("frank", Contributor, 0, 1, now)
	require.True(t, IsConflict(err))
	require.False(t, IsValidation(err))

	ch.LockHolder = ""
	_, err = ch.Lock("frank", Contributor, 1, 1, now)
	require.True(t, IsValidation(err))
	require.False(t, IsConflict(err))
}

func TestUnlock(t *testing.T) {
	ch := &Chunk{ChunkID: "1", Contributions: []Contribution{genesis(t, "c1")}}
	require.ErrorIs(t, ch.Unlock("frank", now), ErrNotLockHolder)

	locked, err := ch.Lock("frank", Contributor, 0, 1, now)
	require.NoError(t, err)
	require.True(t, locked)

	require.ErrorIs(t, ch.Unlock("becky", now), ErrNotLockHolder)
	require.Equal(t, "frank", ch.LockHolder)

	require.NoError(t, ch.Unlock("frank", now))
	require.Empty(t, ch.LockHolder)
	require.Len(t, ch.Contributions, 1)
}

func TestContributeThenVerify(t *testing.T) {
	c := newTestCeremony(t, 1)
	ch, err := c.Chunk("1")
	require.NoError(t, err)

	locked, err := ch.Lock("frank", c.RoleOf("frank"), LockCount(c, "frank"), c.MaxLocks, now)
	require.NoError(t, err)
	require.True(t, locked)

	contribution := signed(t, ContributionRecord{ChallengeHash: "c1", ResponseHash: "r1"})
	require.NoError(t, ch.RecordContribution("frank", "/frank/1", contribution, now))
	require.Len(t, ch.Contributions, 2)
	require.Empty(t, ch.LockHolder)
	require.False(t, ch.LastContribution().Verified)
	require.Equal(t, "frank", ch.LastContribution().ContributorID)
	require.NotNil(t, ch.LastContribution().Metadata.ContributedTime)

	_, err = ch.Lock("frank", Contributor, 0, c.MaxLocks, now)
	require.ErrorIs(t, err, ErrNotVerified)

	locked, err = ch.Lock("v0", c.RoleOf("v0"), 0, c.MaxLocks, now)
	require.NoError(t, err)
	require.True(t, locked)

	wrongResponse := signed(t, VerificationRecord{ChallengeHash: "c1", ResponseHash: "other", NewChallengeHash: "n1"})
	require.ErrorIs(t, ch.RecordVerification("v0", "/v0/1", wrongResponse, now), ErrResponseHashMismatch)
	wrongChallenge := signed(t, VerificationRecord{ChallengeHash: "c0", ResponseHash: "r1", NewChallengeHash: "n1"})
	require.ErrorIs(t, ch.RecordVerification("v0", "/v0/1", wrongChallenge, now), ErrChallengeHashMismatch)
	require.Equal(t, "v0", ch.LockHolder)
	require.False(t, ch.LastContribution().Verified)

	verification := signed(t, VerificationRecord{ChallengeHash: "c1", ResponseHash: "r1", NewChallengeHash: "n1"})
	require.NoError(t, ch.RecordVerification("v0", "/v0/1", verification, now))
	last := ch.LastContribution()
	require.True(t, last.Verified)
	require.Equal(t, "v0", last.VerifierID)
	require.Equal(t, "/v0/1", last.VerifiedLocation)
	require.Empty(t, ch.LockHolder)

	// becky must now chain from the verifier's new challenge.
	locked, err = ch.Lock("becky", Contributor, 0, c.MaxLocks, now)
	require.NoError(t, err)
	require.True(t, locked)
	stale := signed(t, ContributionRecord{ChallengeHash: "c1", ResponseHash: "r2"})
	require.ErrorIs(t, ch.RecordContribution("becky", "/becky/1", stale, now), ErrChallengeHashMismatch)
	require.Len(t, ch.Contributions, 2)
	fresh := signed(t, ContributionRecord{ChallengeHash: "n1", ResponseHash: "r2"})
	require.NoError(t, ch.RecordContribution("becky", "/becky/1", fresh, now))

	requireAlternating(t, ch)
}

func TestRecordRequiresLock(t *testing.T) {
	c := newTestCeremony(t, 1)
	ch, _ := c.Chunk("1")
	rec := signed(t, ContributionRecord{ChallengeHash: "c1", ResponseHash: "r1"})
	require.ErrorIs(t, ch.RecordContribution("frank", "/frank/1", rec, now), ErrNotLockHolder)
	require.Len(t, ch.Contributions, 1)

	ch.LockHolder = "frank"
	require.ErrorIs(t, ch.RecordContribution("frank", "", rec, now), ErrMissingLocation)
	require.ErrorIs(t, ch.RecordContribution("frank", "/x", &SignedData{Signature: "s"}, now), ErrMalformedRecord)
}

func TestContributionNeedsVerifiedPredecessor(t *testing.T) {
	ch := &Chunk{
		ChunkID:       "1",
		LockHolder:    "frank",
		Contributions: []Contribution{{VerifierID: "v0", Verified: true}},
	}
	rec := signed(t, ContributionRecord{ChallengeHash: "c1", ResponseHash: "r1"})
	require.ErrorIs(t, ch.RecordContribution("frank", "/frank/1", rec, now), ErrMissingVerifiedData)
}

func TestRecordDispatch(t *testing.T) {
	c := newTestCeremony(t, 1)
	ch, _ := c.Chunk("1")
	ch.LockHolder = "v0"
	// a verifier with a verified chunk cannot record anything
	rec := signed(t, VerificationRecord{ChallengeHash: "c1", ResponseHash: "r1", NewChallengeHash: "n1"})
	require.ErrorIs(t, ch.Record(Verifier, "v0", "/v0", rec, now), ErrAlreadyVerified)
}

func TestAddAttestation(t *testing.T) {
	c := newTestCeremony(t, 0)
	a := Attestation{Address: "frank", Message: "hello", Signature: "sig"}

	_, err := c.AddAttestation(a, "becky")
	require.ErrorIs(t, err, ErrAttestationIdentity)

	added, err := c.AddAttestation(a, "frank")
	require.NoError(t, err)
	require.True(t, added)

	added, err = c.AddAttestation(a, "frank")
	require.NoError(t, err)
	require.False(t, added)
	require.Len(t, c.Attestations, 1)
}

func requireAlternating(t *testing.T, ch *Chunk) {
	t.Helper()
	for i, contribution := range ch.Contributions {
		if i == 0 {
			continue
		}
		require.NotEmpty(t, contribution.ContributorID, "entry %d has no contributor", i)
		require.NotEqual(t, ch.Contributions[i-1].ContributorID, contribution.ContributorID)
		if i < len(ch.Contributions)-1 {
			require.True(t, contribution.Verified, "entry %d should be verified", i)
		}
	}
}
