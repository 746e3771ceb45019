package api

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/precise-hbr-server/internal/domain"
)

// resultMemo caches computed responses keyed by route and request body digest. A nil memo
// caches nothing.
type resultMemo struct {
	cache *expirable.LRU[string, any]
}

func newResultMemo(cfg domain.CacheConfig) *resultMemo {
	if !cfg.Enabled || cfg.MaxEntries <= 0 {
		return nil
	}
	return &resultMemo{cache: expirable.NewLRU[string, any](cfg.MaxEntries, nil, cfg.TTL)}
}

func memoKey(route string, body []byte) string {
	sum := sha256.Sum256(body)
	return route + ":" + hex.EncodeToString(sum[:])
}

func (m *resultMemo) get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	return m.cache.Get(key)
}

func (m *resultMemo) add(key string, value any) {
	if m == nil {
		return
	}
	m.cache.Add(key, value)
}

func (m *resultMemo) len() int {
	if m == nil {
		return 0
	}
	return m.cache.Len()
}
