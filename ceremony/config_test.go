package ceremony

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	c, err := ReadConfig(strings.NewReader(`{
		"version": 3,
		"contributorIds": ["frank"],
		"verifierIds": ["v0"],
		"chunks": [{"chunkId": "1", "contributions": [{"verifierId": "v0", "verified": true}]}]
	}`))
	require.NoError(t, err)
	require.Equal(t, int64(3), c.Version)
	require.Equal(t, DefaultMaxLocks, c.MaxLocks)
	require.JSONEq(t, `{}`, string(c.Parameters))
	require.Empty(t, c.Attestations)
	require.NotNil(t, c.Attestations)
	require.Len(t, c.Chunks, 1)
	require.Nil(t, c.Chunks[0].Metadata.LockHolderTime)
}

func TestReadConfigInvalid(t *testing.T) {
	_, err := ReadConfig(strings.NewReader(`{"chunks": [{"chunkId": "1"}, {"chunkId": "1"}, {"chunkId": "2", "lockHolder": "mallory"}]}`))
	require.ErrorIs(t, err, ErrInvalidDocument)
	require.Contains(t, err.Error(), "duplicate chunk id 1")
	require.Contains(t, err.Error(), "unknown participant mallory")

	_, err = ReadConfig(strings.NewReader(`not json`))
	require.Error(t, err)
}
