package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// ErrNoChunk is returned when no chunk could be locked this round.
var ErrNoChunk = errors.New("no chunk available")

// API is the part of the coordinator API a participant needs to find work.
type API interface {
	ParticipantID() string
	GetCeremony(ctx context.Context) (*ceremony.Ceremony, error)
	TryLock(ctx context.Context, chunkID string) (bool, error)
}

// Participant acquires chunk locks for one participant acting in one role.
type Participant struct {
	api  API
	role ceremony.Role
	rand *rand.Rand
	log  log.Logger
}

// NewParticipant returns a participant of the given role. A nil rnd is
// seeded from the current time.
func NewParticipant(a API, role ceremony.Role, rnd *rand.Rand, l log.Logger) *Participant {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Participant{api: a, role: role, rand: rnd, log: l}
}

// ID is the participant identifier.
func (p *Participant) ID() string {
	return p.api.ParticipantID()
}

// Role is the role the participant acts in.
func (p *Participant) Role() ceremony.Role {
	return p.role
}

// CheckRole fails if the document does not give the participant its role.
func (p *Participant) CheckRole(doc *ceremony.Ceremony) error {
	if !doc.IsParticipant(p.ID()) {
		return fmt.Errorf("%s is not a participant of this ceremony", p.ID())
	}
	if got := doc.RoleOf(p.ID()); got != p.role {
		return fmt.Errorf("%s is a %s, not a %s", p.ID(), got, p.role)
	}
	return nil
}

// Remaining lists the chunks the participant still has to transform.
func (p *Participant) Remaining(doc *ceremony.Ceremony) []*ceremony.Chunk {
	return ceremony.ChunksRemaining(doc, p.ID(), p.role)
}

// Accepting lists the chunks whose state accepts the participant's next
// action.
func (p *Participant) Accepting(doc *ceremony.Ceremony) []*ceremony.Chunk {
	return ceremony.ChunksAccepting(doc, p.ID(), p.role)
}

// Acquire returns a chunk locked by the participant, together with the
// document it was read from. A lock the participant already holds is
// resumed. Otherwise the unlocked accepting chunks are tried in random order
// until one lock succeeds. ErrNoChunk is returned when none did.
func (p *Participant) Acquire(ctx context.Context) (*ceremony.Chunk, *ceremony.Ceremony, error) {
	doc, err := p.api.GetCeremony(ctx)
	if err != nil {
		return nil, nil, err
	}
	accepting := p.Accepting(doc)
	for _, chunk := range accepting {
		if chunk.LockHolder == p.ID() {
			p.log.Debugw("resuming locked chunk", "chunk", chunk.ChunkID)
			return chunk, doc, nil
		}
	}

	unlocked := make([]*ceremony.Chunk, 0, len(accepting))
	for _, chunk := range accepting {
		if chunk.LockHolder == "" {
			unlocked = append(unlocked, chunk)
		}
	}
	p.rand.Shuffle(len(unlocked), func(i, j int) {
		unlocked[i], unlocked[j] = unlocked[j], unlocked[i]
	})

	for _, chunk := range unlocked {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		taken, err := p.api.TryLock(ctx, chunk.ChunkID)
		if err != nil {
			p.log.Debugw("lock refused", "chunk", chunk.ChunkID, "err", err)
			continue
		}
		if !taken {
			p.log.Debugw("lock not taken", "chunk", chunk.ChunkID)
			continue
		}
		// The lock holds from here on but the chunk may have moved since
		// the first read.
		fresh, err := p.api.GetCeremony(ctx)
		if err != nil {
			return nil, nil, err
		}
		locked, err := fresh.Chunk(chunk.ChunkID)
		if err != nil {
			return nil, nil, err
		}
		p.log.Infow("locked chunk", "chunk", locked.ChunkID)
		return locked, fresh, nil
	}
	return nil, doc, ErrNoChunk
}
