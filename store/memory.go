package store

import (
	"context"
	"sync"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
)

// MemoryStore keeps the encoded document in process memory. It is used by
// tests and throwaway coordinators.
type MemoryStore struct {
	mtx  sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(ctx context.Context) (*ceremony.Ceremony, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.data == nil {
		return nil, ErrNotInitialized
	}
	return decode(m.data)
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	data, err := swap(m.data, expected, doc)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *MemoryStore) Initialize(ctx context.Context, doc *ceremony.Ceremony, force bool) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	ok, err := shouldInitialize(m.data, doc, force)
	if err != nil || !ok {
		return false, err
	}
	data, err := encode(doc)
	if err != nil {
		return false, err
	}
	m.data = data
	return true, nil
}

func (m *MemoryStore) Close() error { return nil }
