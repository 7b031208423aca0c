package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// DefaultBackoff is the pause between two polls of the coordinator.
const DefaultBackoff = 5 * time.Second

// Transformer runs the cryptographic tool on a locked chunk.
type Transformer interface {
	Transform(ctx context.Context, doc *ceremony.Ceremony, chunk *ceremony.Chunk) (*Result, error)
}

// Result is the output of one transformation: the artifact to upload and the
// record to sign for it.
type Result struct {
	ArtifactPath string
	Record       []byte
	// Cleanup removes the scratch files of the transformation. May be nil.
	Cleanup func()
}

// Coordinator is the API the worker drives.
type Coordinator interface {
	API
	WriteLocation(ctx context.Context, chunkID string) (string, error)
	Upload(ctx context.Context, location, src string) error
	Contribute(ctx context.Context, chunkID string, signed *ceremony.SignedData) (string, error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithBackoff sets the pause between polls.
func WithBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.backoff = d
	}
}

// WithWorkerClock sets the clock the worker sleeps on.
func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(w *Worker) {
		w.clock = c
	}
}

// WithProgress receives a status line at every poll.
func WithProgress(fn func(status string)) WorkerOption {
	return func(w *Worker) {
		w.progress = fn
	}
}

// WithStopOnShutdown makes the worker return once the shutdown signal is
// raised.
func WithStopOnShutdown() WorkerOption {
	return func(w *Worker) {
		w.stopOnShutdown = true
	}
}

// Worker polls the coordinator and transforms chunks until the participant
// has nothing left to do.
type Worker struct {
	api         Coordinator
	participant *Participant
	transformer Transformer
	signer      auth.Signer
	clock       clock.Clock
	backoff     time.Duration
	progress    func(string)
	log         log.Logger

	stopOnShutdown bool
}

// NewWorker returns a worker transforming chunks for participant.
func NewWorker(c Coordinator, participant *Participant, t Transformer, signer auth.Signer, l log.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		api:         c,
		participant: participant,
		transformer: t,
		signer:      signer,
		clock:       clock.NewRealClock(),
		backoff:     DefaultBackoff,
		progress:    func(string) {},
		log:         l.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run loops until every chunk the participant has to transform is done, or
// ctx is canceled. A failed transformation is logged and retried later; its
// lock is left in place for the operator to resolve.
func (w *Worker) Run(ctx context.Context) error {
	for {
		doc, err := w.api.GetCeremony(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warnw("unable to read ceremony", "err", err)
		} else {
			if err := w.participant.CheckRole(doc); err != nil {
				return err
			}
			if doc.ShutdownSignal && w.stopOnShutdown {
				w.log.Infow("shutdown signal raised, stopping")
				return nil
			}
			remaining := w.participant.Remaining(doc)
			if len(remaining) == 0 {
				w.progress(fmt.Sprintf("completed %d / %d", len(doc.Chunks), len(doc.Chunks)))
				w.log.Infow("no chunk left to transform", "participant", w.participant.ID(), "ceremonyComplete", ceremony.Complete(doc))
				return nil
			}
			status := fmt.Sprintf("completed %d / %d", len(doc.Chunks)-len(remaining), len(doc.Chunks))
			w.progress(status)
			w.log.Infow(status, "participant", w.participant.ID())

			if w.step(ctx) {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.backoff):
		}
	}
}

// step acquires one chunk and transforms it. It reports whether a
// transformation was committed.
func (w *Worker) step(ctx context.Context) bool {
	chunk, doc, err := w.participant.Acquire(ctx)
	if errors.Is(err, ErrNoChunk) {
		w.log.Debugw("no chunk could be locked")
		return false
	}
	if err != nil {
		w.log.Warnw("unable to acquire chunk", "err", err)
		return false
	}
	location, err := w.Process(ctx, doc, chunk)
	if err != nil {
		w.log.Errorw("transformation failed, chunk stays locked", "chunk", chunk.ChunkID, "err", err)
		return false
	}
	w.log.Infow("transformation committed", "chunk", chunk.ChunkID, "location", location)
	return true
}

// Process transforms a chunk locked by the participant, uploads the artifact
// and submits its signed record. It returns the permanent location of the
// artifact.
func (w *Worker) Process(ctx context.Context, doc *ceremony.Ceremony, chunk *ceremony.Chunk) (string, error) {
	res, err := w.transformer.Transform(ctx, doc, chunk)
	if err != nil {
		return "", fmt.Errorf("transforming chunk %s: %w", chunk.ChunkID, err)
	}
	if res.Cleanup != nil {
		defer res.Cleanup()
	}

	sig, err := w.signer.SignMessage(res.Record)
	if err != nil {
		return "", fmt.Errorf("signing record: %w", err)
	}
	signed := &ceremony.SignedData{Data: res.Record, Signature: sig}
	record, err := ceremony.ParseRecord(w.participant.Role(), signed)
	if err != nil {
		return "", err
	}
	challenge, response := record.Hashes()
	w.log.Infow("chunk transformed", "chunk", chunk.ChunkID, "challengeHash", challenge, "responseHash", response)

	writeURL, err := w.api.WriteLocation(ctx, chunk.ChunkID)
	if err != nil {
		return "", fmt.Errorf("getting write location: %w", err)
	}
	if err := w.api.Upload(ctx, writeURL, res.ArtifactPath); err != nil {
		return "", err
	}
	return w.api.Contribute(ctx, chunk.ChunkID, signed)
}
