package auth

import (
	"net/http"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/blake3"

	"github.com/celo-org/snark-setup-coordinator/log"
)

// NewCachingAuthenticator wraps an authenticator with an LRU cache of
// recently verified credentials. Only successful verifications are cached.
func NewCachingAuthenticator(inner Authenticator, size int, l log.Logger) (Authenticator, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &cachingAuthenticator{
		Authenticator: inner,
		cache:         cache,
		log:           l,
	}, nil
}

type cachingAuthenticator struct {
	Authenticator

	cache *lru.ARCCache
	log   log.Logger
}

type requestKey struct {
	method, path, authorization string
}

type messageKey struct {
	digest              [32]byte
	signature, identity string
}

func (c *cachingAuthenticator) Verify(r *http.Request) (string, error) {
	key := requestKey{
		method:        r.Method,
		path:          r.URL.Path,
		authorization: r.Header.Get("Authorization"),
	}
	if val, ok := c.cache.Get(key); ok {
		return val.(string), nil
	}
	participantID, err := c.Authenticator.Verify(r)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, participantID)
	return participantID, nil
}

func (c *cachingAuthenticator) VerifyMessage(data []byte, signature, identity string) error {
	key := messageKey{digest: blake3.Sum256(data), signature: signature, identity: identity}
	if c.cache.Contains(key) {
		return nil
	}
	if err := c.Authenticator.VerifyMessage(data, signature, identity); err != nil {
		return err
	}
	c.log.Debugw("caching verified signature", "identity", identity)
	c.cache.Add(key, struct{}{})
	return nil
}
