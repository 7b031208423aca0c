package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// FileStorePerm is the permission of the document file.
const FileStorePerm = 0600

// FileStore keeps the document as a JSON file. Writes go to a temporary file
// in the same folder and are renamed over the document, so readers see either
// the old or the new document. A lock file serializes writers across
// processes sharing the path.
type FileStore struct {
	mtx  sync.Mutex
	path string
	log  log.Logger
}

// NewFileStore returns a store writing to path, creating its folder if needed.
func NewFileStore(l log.Logger, path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "creating store folder")
	}
	return &FileStore{path: path, log: l.Named("fileStore")}, nil
}

func (f *FileStore) Read(ctx context.Context) (*ceremony.Ceremony, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	data, err := f.load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotInitialized
	}
	return decode(data)
}

func (f *FileStore) CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return f.locked(func(current []byte) error {
		data, err := swap(current, expected, doc)
		if err != nil {
			return err
		}
		return f.persist(data)
	})
}

func (f *FileStore) Initialize(ctx context.Context, doc *ceremony.Ceremony, force bool) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	var written bool
	err := f.locked(func(current []byte) error {
		ok, err := shouldInitialize(current, doc, force)
		if err != nil || !ok {
			return err
		}
		data, err := encode(doc)
		if err != nil {
			return err
		}
		if err := f.persist(data); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

func (f *FileStore) Close() error { return nil }

// locked runs fn with the current document bytes while holding both the
// process mutex and the file lock.
func (f *FileStore) locked(fn func(current []byte) error) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer func() {
		if err := unlock(); err != nil {
			f.log.Warnw("releasing store lock", "err", err)
		}
	}()

	current, err := f.load()
	if err != nil {
		return err
	}
	return fn(current)
}

func (f *FileStore) load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading store")
	}
	return data, nil
}

func (f *FileStore) persist(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary document")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temporary document")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing temporary document")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), FileStorePerm); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "replacing document")
}
