package store

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// BoltFileName is the name of the bolt database inside the store folder.
const BoltFileName = "ceremony.db"

// BoltStoreOpenPerm is the permission of the bolt database file.
const BoltStoreOpenPerm = 0660

var (
	ceremonyBucket = []byte("ceremony")
	documentKey    = []byte("document")
)

// BoltStore keeps the document in a bbolt database. The compare-and-swap runs
// inside a single read-write transaction.
type BoltStore struct {
	db  *bolt.DB
	log log.Logger
}

// NewBoltStore opens (or creates) the database inside folder.
func NewBoltStore(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(folder, BoltFileName), BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ceremonyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, log: l.Named("boltStore")}, nil
}

func (b *BoltStore) Read(ctx context.Context) (*ceremony.Ceremony, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	var doc *ceremony.Ceremony
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ceremonyBucket).Get(documentKey)
		if data == nil {
			return ErrNotInitialized
		}
		var err error
		doc, err = decode(data)
		return err
	})
	return doc, err
}

func (b *BoltStore) CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ceremonyBucket)
		data, err := swap(bucket.Get(documentKey), expected, doc)
		if err != nil {
			return err
		}
		return bucket.Put(documentKey, data)
	})
}

func (b *BoltStore) Initialize(ctx context.Context, doc *ceremony.Ceremony, force bool) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	var written bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ceremonyBucket)
		ok, err := shouldInitialize(bucket.Get(documentKey), doc, force)
		if err != nil || !ok {
			return err
		}
		data, err := encode(doc)
		if err != nil {
			return err
		}
		written = true
		return bucket.Put(documentKey, data)
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("closing bolt store", "err", err)
	}
	return err
}
