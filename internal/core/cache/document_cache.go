// Package cache holds the bounded document metadata cache shared by the
// ingestion orchestrator and the chat engine.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/markdave123-py/docchat/internal/models"
)

const DefaultSize = 512

// DocumentCache is a bounded LRU of document records keyed by document id.
// Only processed documents are cached; every status change or deletion must
// call Invalidate. A nil *DocumentCache is valid and caches nothing.
//
// epoch counts invalidations. A reader takes Epoch before loading from the
// store and hands it to Put, so a snapshot read before a concurrent
// Invalidate is never cached.
type DocumentCache struct {
	mu    sync.Mutex
	epoch uint64
	lru   *lru.Cache[string, models.Document]
}

func NewDocumentCache(size int) (*DocumentCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, models.Document](size)
	if err != nil {
		return nil, err
	}
	return &DocumentCache{lru: c}, nil
}

// Get returns the cached document when it belongs to ownerID.
func (c *DocumentCache) Get(id, ownerID string) (*models.Document, bool) {
	if c == nil {
		return nil, false
	}
	doc, ok := c.lru.Get(id)
	if !ok || doc.OwnerID != ownerID {
		return nil, false
	}
	return &doc, true
}

// Epoch returns the current invalidation count.
func (c *DocumentCache) Epoch() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Put stores a copy of doc if it is processed and no Invalidate happened
// since epoch was taken.
func (c *DocumentCache) Put(doc *models.Document, epoch uint64) {
	if c == nil || doc == nil || doc.Status != models.StatusProcessed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.lru.Add(doc.ID, *doc)
}

func (c *DocumentCache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lru.Remove(id)
}

func (c *DocumentCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
