package ceremony

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

func signed(t *testing.T, v interface{}) *SignedData {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &SignedData{Data: data, Signature: "sig"}
}

func genesis(t *testing.T, newChallenge string) Contribution {
	return Contribution{
		VerifierID:       "v0",
		VerifiedLocation: "/chunks/genesis",
		VerifiedData: signed(t, VerificationRecord{
			ChallengeHash:    "00",
			ResponseHash:     "00",
			NewChallengeHash: newChallenge,
		}),
		Verified: true,
	}
}

// newTestCeremony builds chunks "1".."n", each seeded with a verified genesis
// entry whose new challenge hash is "c<id>".
func newTestCeremony(t *testing.T, n int) *Ceremony {
	t.Helper()
	c := &Ceremony{
		Version:        0,
		MaxLocks:       1,
		ContributorIDs: []string{"frank", "becky"},
		VerifierIDs:    []string{"v0"},
		Parameters:     json.RawMessage(`{}`),
	}
	for i := 1; i <= n; i++ {
		id := string(rune('0' + i))
		c.Chunks = append(c.Chunks, Chunk{
			ChunkID:       id,
			Contributions: []Contribution{genesis(t, "c"+id)},
		})
	}
	return c
}
