// Package storage hands out write locations for chunk artifacts and promotes
// uploaded artifacts to their permanent location. Participants upload to a
// per-participant scratch ("unsafe") object; only the coordinator copies it to
// the permanent object referenced by the ceremony document.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// ErrCopyFailed is returned when an artifact could not be promoted.
var ErrCopyFailed = errors.New("unable to copy contribution")

// UnsafeSuffix marks scratch artifacts written by participants.
const UnsafeSuffix = "-unsafe"

// ChunkStorage is the blob store of the ceremony artifacts.
type ChunkStorage interface {
	// WriteLocation returns where participantID must upload the next artifact
	// of chunk.
	WriteLocation(ctx context.Context, round int64, chunk *ceremony.Chunk, participantID string) (string, error)
	// CopyToPermanent promotes the uploaded artifact and returns its
	// permanent location. Copying twice is harmless.
	CopyToPermanent(ctx context.Context, round int64, chunk *ceremony.Chunk, participantID string) (string, error)
}

// objectName is the name of an artifact relative to the storage root.
func objectName(round int64, chunkID string, version int, participantID, suffix string) string {
	return fmt.Sprintf("%d/%s/%d.%s%s", round, chunkID, version, participantID, suffix)
}

// checkName rejects identifiers that would escape their folder.
func checkName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s %q", kind, name)
	}
	return nil
}
