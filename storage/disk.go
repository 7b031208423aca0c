package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

const diskFilePerm = 0600

// DiskStorage keeps artifacts on the coordinator's disk. The coordinator
// serves them itself, so locations are URLs below its public URL:
//
//	POST {publicURL}/chunks/{id}/contribution/{version}               upload
//	GET  {publicURL}/chunks/{id}/contribution/{version}/{participant}  download
type DiskStorage struct {
	root      string
	publicURL string
	log       log.Logger
}

func NewDiskStorage(l log.Logger, root, publicURL string) (*DiskStorage, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	return &DiskStorage{
		root:      root,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		log:       l.Named("diskStorage"),
	}, nil
}

func (d *DiskStorage) WriteLocation(_ context.Context, _ int64, chunk *ceremony.Chunk, _ string) (string, error) {
	return fmt.Sprintf("%s/chunks/%s/contribution/%d", d.publicURL, chunk.ChunkID, chunk.Version()), nil
}

func (d *DiskStorage) readLocation(chunkID string, version int, participantID string) string {
	return fmt.Sprintf("%s/chunks/%s/contribution/%d/%s", d.publicURL, chunkID, version, participantID)
}

// Save stores an upload as the participant's scratch artifact.
func (d *DiskStorage) Save(round int64, chunkID string, version int, participantID string, r io.Reader) (int64, error) {
	path, err := d.path(round, chunkID, version, participantID, UnsafeSuffix)
	if err != nil {
		return 0, err
	}
	return writeFile(path, r)
}

// Open returns a permanent artifact.
func (d *DiskStorage) Open(round int64, chunkID string, version int, participantID string) (*os.File, error) {
	path, err := d.path(round, chunkID, version, participantID, "")
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (d *DiskStorage) CopyToPermanent(ctx context.Context, round int64, chunk *ceremony.Chunk, participantID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	version := chunk.Version()
	src, err := d.path(round, chunk.ChunkID, version, participantID, UnsafeSuffix)
	if err != nil {
		return "", err
	}
	dst, err := d.path(round, chunk.ChunkID, version, participantID, "")
	if err != nil {
		return "", err
	}
	location := d.readLocation(chunk.ChunkID, version, participantID)

	srcDigest, err := digest(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if dstDigest, err := digest(dst); err == nil && bytes.Equal(srcDigest, dstDigest) {
		d.log.Debugw("artifact already copied", "chunk", chunk.ChunkID, "version", version, "participant", participantID)
		return location, nil
	}

	fd, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	defer fd.Close()
	n, err := writeFile(dst, fd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	d.log.Infow("artifact copied", "chunk", chunk.ChunkID, "version", version, "participant", participantID, "bytes", n)
	return location, nil
}

func (d *DiskStorage) path(round int64, chunkID string, version int, participantID, suffix string) (string, error) {
	if err := checkName("chunk id", chunkID); err != nil {
		return "", err
	}
	if err := checkName("participant id", participantID); err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(objectName(round, chunkID, version, participantID, suffix))), nil
}

func digest(path string) ([]byte, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	h := blake3.New()
	if _, err := io.Copy(h, fd); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// writeFile replaces path with the content of r through a temporary file.
func writeFile(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), diskFilePerm); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), path)
}
