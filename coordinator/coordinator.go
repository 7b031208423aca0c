// Package coordinator applies participant requests to the ceremony document.
// Every state transition reads the document, mutates a private copy through
// the ceremony rules and commits it with a compare-and-swap. Transitions of
// one Coordinator are serialized. When another process wins the swap, the
// transition is replayed on the fresh document a bounded number of times.
// A validation failure never reaches the store. SetCeremony is never replayed
// since its caller chose the version.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	clock "github.com/jonboulle/clockwork"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/store"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used to stamp lock and contribution times.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l log.Logger) Option {
	return func(co *Coordinator) {
		co.log = l
	}
}

// maxAttempts bounds the replays of a transition losing the swap to a writer
// in another process.
const maxAttempts = 5

// Coordinator is safe for concurrent use.
type Coordinator struct {
	// mtx is held across read, mutate and swap of every transition.
	mtx   sync.Mutex
	store store.Store
	clock clock.Clock
	log   log.Logger
}

func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: s,
		clock: clock.NewRealClock(),
		log:   log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("coordinator")
	return c
}

// GetCeremony returns the current document.
func (c *Coordinator) GetCeremony(ctx context.Context) (*ceremony.Ceremony, error) {
	return c.store.Read(ctx)
}

// SetCeremony replaces the whole document. doc.Version must be the version
// the caller read; the stored document gets the next one.
func (c *Coordinator) SetCeremony(ctx context.Context, doc *ceremony.Ceremony) (*ceremony.Ceremony, error) {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	expected := doc.Version
	c.mtx.Lock()
	err := c.store.CompareAndSwap(ctx, expected, doc)
	c.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	c.log.Infow("ceremony replaced", "version", expected+1)
	doc.Version = expected + 1
	return doc, nil
}

// GetChunk returns a copy of one chunk.
func (c *Coordinator) GetChunk(ctx context.Context, chunkID string) (*ceremony.Chunk, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Chunk(chunkID)
}

// TryLockChunk attempts to lock chunkID for participantID. It returns false
// without writing when the participant already holds the lock.
func (c *Coordinator) TryLockChunk(ctx context.Context, chunkID, participantID string) (bool, error) {
	var locked bool
	err := c.update(ctx, func(doc *ceremony.Ceremony) (bool, error) {
		chunk, err := doc.Chunk(chunkID)
		if err != nil {
			return false, err
		}
		held := ceremony.LockCount(doc, participantID)
		locked, err = chunk.Lock(participantID, doc.RoleOf(participantID), held, doc.MaxLocks, c.clock.Now())
		return locked, err
	})
	if err != nil {
		return false, err
	}
	if locked {
		c.log.Infow("chunk locked", "chunk", chunkID, "participant", participantID)
	}
	return locked, nil
}

// UnlockChunk releases a lock held by participantID.
func (c *Coordinator) UnlockChunk(ctx context.Context, chunkID, participantID string) error {
	err := c.update(ctx, func(doc *ceremony.Ceremony) (bool, error) {
		chunk, err := doc.Chunk(chunkID)
		if err != nil {
			return false, err
		}
		return true, chunk.Unlock(participantID, c.clock.Now())
	})
	if err == nil {
		c.log.Infow("chunk unlocked", "chunk", chunkID, "participant", participantID)
	}
	return err
}

// ContributeChunk records the work of the lock holder: a new contribution for
// contributors, the verification of the pending one for verifiers.
func (c *Coordinator) ContributeChunk(ctx context.Context, chunkID, participantID, location string, signed *ceremony.SignedData) error {
	var role ceremony.Role
	err := c.update(ctx, func(doc *ceremony.Ceremony) (bool, error) {
		chunk, err := doc.Chunk(chunkID)
		if err != nil {
			return false, err
		}
		role = doc.RoleOf(participantID)
		return true, chunk.Record(role, participantID, location, signed, c.clock.Now())
	})
	if err != nil {
		return err
	}
	c.log.Infow("chunk contribution recorded", "chunk", chunkID, "participant", participantID, "role", role, "location", location)
	return nil
}

// AddAttestation stores the participant's attestation once. It reports
// whether the document changed.
func (c *Coordinator) AddAttestation(ctx context.Context, a ceremony.Attestation, participantID string) (bool, error) {
	var added bool
	err := c.update(ctx, func(doc *ceremony.Ceremony) (bool, error) {
		var err error
		added, err = doc.AddAttestation(a, participantID)
		return added, err
	})
	return added, err
}

// SetShutdownSignal sets the advisory shutdown flag read by the participants.
func (c *Coordinator) SetShutdownSignal(ctx context.Context, signal bool) error {
	err := c.update(ctx, func(doc *ceremony.Ceremony) (bool, error) {
		if doc.ShutdownSignal == signal {
			return false, nil
		}
		doc.ShutdownSignal = signal
		return true, nil
	})
	if err == nil {
		c.log.Infow("shutdown signal set", "signal", signal)
	}
	return err
}

// update runs one read-modify-write cycle. mutate reports whether the
// document must be written; it runs again on a fresh document when a writer
// outside this process bumped the version in between.
func (c *Coordinator) update(ctx context.Context, mutate func(doc *ceremony.Ceremony) (bool, error)) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for attempt := 1; ; attempt++ {
		doc, err := c.store.Read(ctx)
		if err != nil {
			return err
		}
		write, err := mutate(doc)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		err = c.store.CompareAndSwap(ctx, doc.Version, doc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ceremony.ErrVersionConflict) || attempt == maxAttempts {
			return fmt.Errorf("committing ceremony: %w", err)
		}
		c.log.Debugw("ceremony changed by another writer, replaying", "version", doc.Version, "attempt", attempt)
	}
}
