// Package store keeps the single ceremony document. Every backend offers an
// atomic read and a compare-and-swap write keyed on the document version.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// ErrNotInitialized is returned by Read when no document was ever stored.
var ErrNotInitialized = errors.New("ceremony store is not initialized")

// Store is the durable keeper of the ceremony document.
type Store interface {
	// Read returns a private copy of the persisted document.
	Read(ctx context.Context) (*ceremony.Ceremony, error)
	// CompareAndSwap persists doc with version expected+1, provided the
	// persisted version is still expected. Otherwise it returns
	// ceremony.ErrVersionConflict and the persisted state is left untouched.
	CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error
	// Initialize persists doc as the starting document. An existing document
	// whose version is equal or higher is kept unless force is set. It
	// reports whether doc was written.
	Initialize(ctx context.Context, doc *ceremony.Ceremony, force bool) (bool, error)
	Close() error
}

func encode(doc *ceremony.Ceremony) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding ceremony")
	}
	return data, nil
}

func decode(data []byte) (*ceremony.Ceremony, error) {
	var doc ceremony.Ceremony
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding ceremony")
	}
	return &doc, nil
}

// swap computes the bytes that replace current, or the reason it must not be
// replaced.
func swap(current []byte, expected int64, doc *ceremony.Ceremony) ([]byte, error) {
	if current == nil {
		return nil, ErrNotInitialized
	}
	persisted, err := decode(current)
	if err != nil {
		return nil, err
	}
	if persisted.Version != expected {
		return nil, fmt.Errorf("%w: expected %d, store has %d", ceremony.ErrVersionConflict, expected, persisted.Version)
	}
	next := *doc
	next.Version = expected + 1
	return encode(&next)
}

// shouldInitialize implements the init rule: a configuration never
// overwrites a document at an equal or higher version unless forced.
func shouldInitialize(current []byte, doc *ceremony.Ceremony, force bool) (bool, error) {
	if current == nil || force {
		return true, nil
	}
	persisted, err := decode(current)
	if err != nil {
		return false, err
	}
	return persisted.Version < doc.Version, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
