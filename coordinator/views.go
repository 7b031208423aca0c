package coordinator

import (
	"context"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// ChunkSummary is one chunk of a participant's work queue.
type ChunkSummary struct {
	ChunkID    string `json:"chunkId"`
	LockHolder string `json:"lockHolder"`
}

// ParticipantChunks is the work queue of one participant in one role.
type ParticipantChunks struct {
	ParticipantID  string         `json:"id"`
	Chunks         []ChunkSummary `json:"chunks"`
	LockedChunks   []string       `json:"lockedChunks"`
	NumRemaining   int            `json:"numRemaining"`
	NumChunks      int            `json:"numChunks"`
	MaxLocks       int            `json:"maxLocks"`
	ShutdownSignal bool           `json:"shutdownSignal"`
}

// ContributorChunks lists the chunks participantID may lock as a contributor.
func (c *Coordinator) ContributorChunks(ctx context.Context, participantID string) (*ParticipantChunks, error) {
	return c.participantChunks(ctx, participantID, ceremony.Contributor)
}

// VerifierChunks lists the chunks awaiting verification.
func (c *Coordinator) VerifierChunks(ctx context.Context, participantID string) (*ParticipantChunks, error) {
	return c.participantChunks(ctx, participantID, ceremony.Verifier)
}

func (c *Coordinator) participantChunks(ctx context.Context, participantID string, role ceremony.Role) (*ParticipantChunks, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	view := &ParticipantChunks{
		ParticipantID:  participantID,
		Chunks:         []ChunkSummary{},
		LockedChunks:   []string{},
		NumRemaining:   len(ceremony.ChunksRemaining(doc, participantID, role)),
		NumChunks:      len(doc.Chunks),
		MaxLocks:       doc.MaxLocks,
		ShutdownSignal: doc.ShutdownSignal,
	}
	for _, ch := range ceremony.ChunksAccepting(doc, participantID, role) {
		view.Chunks = append(view.Chunks, ChunkSummary{ChunkID: ch.ChunkID, LockHolder: ch.LockHolder})
	}
	for _, ch := range ceremony.LockedChunks(doc, participantID) {
		view.LockedChunks = append(view.LockedChunks, ch.ChunkID)
	}
	return view, nil
}

// ChunkInfo returns the download provenance of a chunk.
func (c *Coordinator) ChunkInfo(ctx context.Context, chunkID string) (*ceremony.ChunkDownloadInfo, error) {
	chunk, err := c.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	info := chunk.DownloadInfo()
	return &info, nil
}
