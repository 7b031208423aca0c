// Package api holds the JSON bodies exchanged between the coordinator and its
// participants. Every response is wrapped in a Response envelope.
package api

import (
	"encoding/json"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// Envelope status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the envelope of every coordinator response.
type Response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// LockResult answers POST /chunks/{id}/lock.
type LockResult struct {
	ChunkID string `json:"chunkId"`
	Locked  bool   `json:"locked"`
}

// UnlockResult answers POST /chunks/{id}/unlock.
type UnlockResult struct {
	ChunkID  string `json:"chunkId"`
	Unlocked bool   `json:"unlocked"`
}

// WriteLocation answers GET /chunks/{id}/contribution.
type WriteLocation struct {
	ChunkID       string `json:"chunkId"`
	ParticipantID string `json:"participantId"`
	WriteURL      string `json:"writeUrl"`
}

// ContributeRequest is the body of POST /chunks/{id}/contribution: the
// signed record, signed over the exact bytes of Data.
type ContributeRequest = ceremony.SignedData

// ContributeResult answers POST /chunks/{id}/contribution.
type ContributeResult struct {
	ChunkID  string `json:"chunkId"`
	Location string `json:"location"`
}

// AttestResult answers POST /attest.
type AttestResult struct {
	Added bool `json:"added"`
}

// ShutdownRequest is the optional body of POST /shutdown-signal. An empty
// body raises the signal.
type ShutdownRequest struct {
	Signal *bool `json:"signal,omitempty"`
}

// SetCeremonyResult answers PUT /ceremony.
type SetCeremonyResult struct {
	Version int64 `json:"version"`
}

// UploadResult answers an upload to the coordinator's disk storage.
type UploadResult struct {
	ChunkID string `json:"chunkId"`
	Version int    `json:"version"`
	Bytes   int64  `json:"bytes"`
}
