package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log/testlogger"
	"github.com/celo-org/snark-setup-coordinator/store"
)

var start = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store store.Store
	clock clock.FakeClock
	co    *Coordinator
}

func signed(t *testing.T, v interface{}) *ceremony.SignedData {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &ceremony.SignedData{Data: data, Signature: "sig"}
}

func newFixture(t *testing.T, contributors ...string) *fixture {
	t.Helper()
	if len(contributors) == 0 {
		contributors = []string{"frank", "becky"}
	}
	doc := &ceremony.Ceremony{
		MaxLocks:       1,
		ContributorIDs: contributors,
		VerifierIDs:    []string{"v0"},
	}
	for _, id := range []string{"1", "2"} {
		doc.Chunks = append(doc.Chunks, ceremony.Chunk{
			ChunkID: id,
			Contributions: []ceremony.Contribution{{
				VerifierID:       "v0",
				VerifiedLocation: "/genesis/" + id,
				VerifiedData: signed(t, ceremony.VerificationRecord{
					ChallengeHash: "00", ResponseHash: "00", NewChallengeHash: "c" + id,
				}),
				Verified: true,
			}},
		})
	}
	doc.Normalize()

	s := store.NewMemoryStore()
	_, err := s.Initialize(context.Background(), doc, false)
	require.NoError(t, err)
	fc := clock.NewFakeClockAt(start)
	return &fixture{
		ctx:   context.Background(),
		store: s,
		clock: fc,
		co:    New(s, WithClock(fc), WithLogger(testlogger.New(t))),
	}
}

func (f *fixture) version(t *testing.T) int64 {
	t.Helper()
	doc, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	return doc.Version
}

func (f *fixture) snapshot(t *testing.T) []byte {
	t.Helper()
	doc, err := f.store.Read(f.ctx)
	require.NoError(t, err)
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestLockQuota(t *testing.T) {
	f := newFixture(t)

	locked, err := f.co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)
	require.True(t, locked)

	_, err = f.co.TryLockChunk(f.ctx, "2", "frank")
	require.ErrorIs(t, err, ceremony.ErrLockQuota)

	require.NoError(t, f.co.UnlockChunk(f.ctx, "1", "frank"))
	locked, err = f.co.TryLockChunk(f.ctx, "2", "frank")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestRelockDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	locked, err := f.co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)
	require.True(t, locked)
	v := f.version(t)

	locked, err = f.co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)
	require.False(t, locked)
	require.Equal(t, v, f.version(t))

	_, err = f.co.TryLockChunk(f.ctx, "1", "becky")
	require.ErrorIs(t, err, ceremony.ErrChunkLocked)
	require.True(t, ceremony.IsConflict(err))

	require.ErrorIs(t, f.co.UnlockChunk(f.ctx, "1", "becky"), ceremony.ErrNotLockHolder)
	require.Equal(t, v, f.version(t))
}

func TestConcurrentLock(t *testing.T) {
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, fmt.Sprintf("p%d", i))
	}
	f := newFixture(t, ids...)

	var wg sync.WaitGroup
	var mtx sync.Mutex
	var winners []string
	begin := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-begin
			locked, err := f.co.TryLockChunk(f.ctx, "1", id)
			if err != nil {
				if !ceremony.IsConflict(err) {
					t.Errorf("unexpected error for %s: %v", id, err)
				}
				return
			}
			if locked {
				mtx.Lock()
				winners = append(winners, id)
				mtx.Unlock()
			}
		}(id)
	}
	close(begin)
	wg.Wait()

	require.Len(t, winners, 1)
	chunk, err := f.co.GetChunk(f.ctx, "1")
	require.NoError(t, err)
	require.Equal(t, winners[0], chunk.LockHolder)
	require.Equal(t, int64(1), f.version(t))
}

func TestContributeVerifyChain(t *testing.T) {
	f := newFixture(t)

	locked, err := f.co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)
	require.True(t, locked)
	f.clock.Advance(time.Minute)
	err = f.co.ContributeChunk(f.ctx, "1", "frank", "/frank/1", signed(t, ceremony.ContributionRecord{
		ChallengeHash: "c1", ResponseHash: "r1",
	}))
	require.NoError(t, err)

	chunk, err := f.co.GetChunk(f.ctx, "1")
	require.NoError(t, err)
	require.Empty(t, chunk.LockHolder)
	require.Len(t, chunk.Contributions, 2)
	last := chunk.LastContribution()
	require.Equal(t, "frank", last.ContributorID)
	require.False(t, last.Verified)
	require.Equal(t, start.Add(time.Minute), *last.Metadata.ContributedTime)

	// frank is a contributor and the chunk now waits for a verifier
	_, err = f.co.TryLockChunk(f.ctx, "1", "becky")
	require.ErrorIs(t, err, ceremony.ErrNotVerified)

	locked, err = f.co.TryLockChunk(f.ctx, "1", "v0")
	require.NoError(t, err)
	require.True(t, locked)

	before := f.snapshot(t)
	err = f.co.ContributeChunk(f.ctx, "1", "v0", "/v0/1", signed(t, ceremony.VerificationRecord{
		ChallengeHash: "c1", ResponseHash: "forged", NewChallengeHash: "c1'",
	}))
	require.ErrorIs(t, err, ceremony.ErrResponseHashMismatch)
	require.Equal(t, before, f.snapshot(t))

	err = f.co.ContributeChunk(f.ctx, "1", "v0", "/v0/1", signed(t, ceremony.VerificationRecord{
		ChallengeHash: "c1", ResponseHash: "r1", NewChallengeHash: "c1'",
	}))
	require.NoError(t, err)

	locked, err = f.co.TryLockChunk(f.ctx, "1", "becky")
	require.NoError(t, err)
	require.True(t, locked)

	before = f.snapshot(t)
	err = f.co.ContributeChunk(f.ctx, "1", "becky", "/becky/1", signed(t, ceremony.ContributionRecord{
		ChallengeHash: "c1", ResponseHash: "r2",
	}))
	require.ErrorIs(t, err, ceremony.ErrChallengeHashMismatch)
	require.Equal(t, before, f.snapshot(t))

	err = f.co.ContributeChunk(f.ctx, "1", "becky", "/becky/1", signed(t, ceremony.ContributionRecord{
		ChallengeHash: "c1'", ResponseHash: "r2",
	}))
	require.NoError(t, err)

	info, err := f.co.ChunkInfo(f.ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "/v0/1", info.LastChallengeURL)
	require.Equal(t, "/becky/1", info.LastResponseURL)
	require.Equal(t, "/genesis/1", info.PreviousChallengeURL)
	require.Equal(t, 3, info.Version)
}

func TestVersionMonotonicity(t *testing.T) {
	f := newFixture(t)
	v := f.version(t)
	ops := []func() error{
		func() error { _, err := f.co.TryLockChunk(f.ctx, "1", "frank"); return err },
		func() error { return f.co.UnlockChunk(f.ctx, "1", "frank") },
		func() error { _, err := f.co.TryLockChunk(f.ctx, "2", "becky"); return err },
		func() error { return f.co.SetShutdownSignal(f.ctx, true) },
	}
	for _, op := range ops {
		require.NoError(t, op())
		v++
		require.Equal(t, v, f.version(t))
	}
}

func TestSetCeremonyStaleVersion(t *testing.T) {
	f := newFixture(t)
	doc, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)

	doc.MaxLocks = 2
	updated, err := f.co.SetCeremony(f.ctx, doc)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.Version)

	stale, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	stale.Version = 0
	stale.MaxLocks = 9
	before := f.snapshot(t)
	_, err = f.co.SetCeremony(f.ctx, stale)
	require.ErrorIs(t, err, ceremony.ErrVersionConflict)
	require.Equal(t, before, f.snapshot(t))

	current, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, current.MaxLocks)
}

func TestSetCeremonyInvalid(t *testing.T) {
	f := newFixture(t)
	doc, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	doc.Chunks = append(doc.Chunks, doc.Chunks[0])
	_, err = f.co.SetCeremony(f.ctx, doc)
	require.ErrorIs(t, err, ceremony.ErrInvalidDocument)
	require.Equal(t, int64(0), f.version(t))
}

func TestAttestationIdempotent(t *testing.T) {
	f := newFixture(t)
	a := ceremony.Attestation{Address: "frank", Message: "hello", Signature: "sig"}

	added, err := f.co.AddAttestation(f.ctx, a, "frank")
	require.NoError(t, err)
	require.True(t, added)
	added, err = f.co.AddAttestation(f.ctx, a, "frank")
	require.NoError(t, err)
	require.False(t, added)

	doc, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), doc.Version)
	require.Len(t, doc.Attestations, 1)

	_, err = f.co.AddAttestation(f.ctx, a, "becky")
	require.ErrorIs(t, err, ceremony.ErrAttestationIdentity)
}

func TestShutdownSignal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.co.SetShutdownSignal(f.ctx, true))
	require.NoError(t, f.co.SetShutdownSignal(f.ctx, true))
	doc, err := f.co.GetCeremony(f.ctx)
	require.NoError(t, err)
	require.True(t, doc.ShutdownSignal)
	require.Equal(t, int64(1), doc.Version)
}

func TestUnknownChunk(t *testing.T) {
	f := newFixture(t)
	_, err := f.co.TryLockChunk(f.ctx, "42", "frank")
	require.True(t, ceremony.IsNotFound(err))
	_, err = f.co.ChunkInfo(f.ctx, "42")
	require.True(t, ceremony.IsNotFound(err))
}

func TestParticipantViews(t *testing.T) {
	f := newFixture(t)
	_, err := f.co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)

	view, err := f.co.ContributorChunks(f.ctx, "frank")
	require.NoError(t, err)
	require.Equal(t, "frank", view.ParticipantID)
	require.Equal(t, []ChunkSummary{{ChunkID: "1", LockHolder: "frank"}, {ChunkID: "2"}}, view.Chunks)
	require.Equal(t, []string{"1"}, view.LockedChunks)
	require.Equal(t, 2, view.NumRemaining)
	require.Equal(t, 2, view.NumChunks)
	require.Equal(t, 1, view.MaxLocks)

	view, err = f.co.VerifierChunks(f.ctx, "v0")
	require.NoError(t, err)
	require.Empty(t, view.Chunks)
	require.Equal(t, 2, view.NumRemaining)
}

// pairedReads holds the first read until a second one arrives, or until a
// short grace period expired when reads are serialized.
type pairedReads struct {
	store.Store
	once    sync.Once
	arrived chan struct{}
	reads   int
	mtx     sync.Mutex
}

func (p *pairedReads) Read(ctx context.Context) (*ceremony.Ceremony, error) {
	p.mtx.Lock()
	p.reads++
	n := p.reads
	p.mtx.Unlock()
	switch n {
	case 1:
		select {
		case <-p.arrived:
		case <-time.After(100 * time.Millisecond):
		}
	case 2:
		p.once.Do(func() { close(p.arrived) })
	}
	return p.Store.Read(ctx)
}

func TestConcurrentLocksOnDifferentChunks(t *testing.T) {
	f := newFixture(t)
	paired := &pairedReads{Store: f.store, arrived: make(chan struct{})}
	co := New(paired, WithClock(f.clock), WithLogger(testlogger.New(t)))

	var wg sync.WaitGroup
	errs := make(map[string]error)
	var mtx sync.Mutex
	for chunkID, id := range map[string]string{"1": "frank", "2": "becky"} {
		wg.Add(1)
		go func(chunkID, id string) {
			defer wg.Done()
			locked, err := co.TryLockChunk(f.ctx, chunkID, id)
			if err == nil && !locked {
				err = fmt.Errorf("lock of chunk %s not taken", chunkID)
			}
			mtx.Lock()
			errs[id] = err
			mtx.Unlock()
		}(chunkID, id)
	}
	wg.Wait()

	require.NoError(t, errs["frank"])
	require.NoError(t, errs["becky"])
	doc, err := f.store.Read(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "frank", doc.Chunks[0].LockHolder)
	require.Equal(t, "becky", doc.Chunks[1].LockHolder)
	require.Equal(t, int64(2), doc.Version)
}

// foreignWriter bumps the stored version before the next swaps, the way a
// coordinator in another process sharing the store would.
type foreignWriter struct {
	store.Store
	bumps int
	swaps int
}

func (w *foreignWriter) CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error {
	w.swaps++
	if w.bumps > 0 {
		w.bumps--
		current, err := w.Store.Read(ctx)
		if err != nil {
			return err
		}
		current.ShutdownSignal = !current.ShutdownSignal
		if err := w.Store.CompareAndSwap(ctx, current.Version, current); err != nil {
			return err
		}
	}
	return w.Store.CompareAndSwap(ctx, expected, doc)
}

func TestUpdateReplaysForeignWrites(t *testing.T) {
	f := newFixture(t)
	w := &foreignWriter{Store: f.store, bumps: 2}
	co := New(w, WithClock(f.clock), WithLogger(testlogger.New(t)))

	locked, err := co.TryLockChunk(f.ctx, "1", "frank")
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, 3, w.swaps)

	doc, err := f.store.Read(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "frank", doc.Chunks[0].LockHolder)
	require.False(t, doc.ShutdownSignal)
	require.Equal(t, int64(3), doc.Version)
}

func TestUpdateGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	w := &foreignWriter{Store: f.store, bumps: maxAttempts}
	co := New(w, WithClock(f.clock), WithLogger(testlogger.New(t)))

	_, err := co.TryLockChunk(f.ctx, "1", "frank")
	require.ErrorIs(t, err, ceremony.ErrVersionConflict)
	require.Equal(t, maxAttempts, w.swaps)

	chunk, err := f.co.GetChunk(f.ctx, "1")
	require.NoError(t, err)
	require.Empty(t, chunk.LockHolder)
}

func TestSetCeremonyIsNotReplayed(t *testing.T) {
	f := newFixture(t)
	w := &foreignWriter{Store: f.store, bumps: 1}
	co := New(w, WithClock(f.clock), WithLogger(testlogger.New(t)))

	doc, err := co.GetCeremony(f.ctx)
	require.NoError(t, err)
	doc.MaxLocks = 2
	_, err = co.SetCeremony(f.ctx, doc)
	require.True(t, ceremony.IsConflict(err))
	require.Equal(t, 1, w.swaps)
}
