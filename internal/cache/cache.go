// Package cache provides TTL-bounded, rebuildable caches for the
// assembler hot path. Neither cache is a source of truth: both can be
// discarded and repopulated from the stores at any time.
package cache

import (
	"sync"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/dgraph-io/ristretto"
)

// TurnCache holds the last few turns per (conversation, thread) for the
// immediate context layer. Bounded with oldest-cost eviction and a
// per-entry TTL.
type TurnCache struct {
	cache   *ristretto.Cache
	ttl     time.Duration
	maxSize int

	mu sync.Mutex // serializes appends; reads go straight to ristretto
}

// NewTurnCache creates a turn cache keeping at most maxEntries
// conversation windows of up to maxSize turns each.
func NewTurnCache(maxEntries int64, maxSize int, ttl time.Duration) (*TurnCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Cost accounting is one unit per window; without this flag
		// ristretto adds each item's internal byte size on top and
		// rejects every Set against the entry-count MaxCost.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &TurnCache{cache: c, ttl: ttl, maxSize: maxSize}, nil
}

func turnKey(conversationID string, threadID *string) string {
	if threadID == nil {
		return conversationID
	}
	return conversationID + "/" + *threadID
}

// Get returns the cached window, or nil on miss/expiry.
func (c *TurnCache) Get(conversationID string, threadID *string) []models.Turn {
	v, ok := c.cache.Get(turnKey(conversationID, threadID))
	if !ok {
		return nil
	}
	turns, ok := v.([]models.Turn)
	if !ok {
		return nil
	}
	return turns
}

// Put replaces the window for a conversation.
func (c *TurnCache) Put(conversationID string, threadID *string, turns []models.Turn) {
	if len(turns) > c.maxSize {
		turns = turns[len(turns)-c.maxSize:]
	}
	c.cache.SetWithTTL(turnKey(conversationID, threadID), turns, 1, c.ttl)
	c.cache.Wait()
}

// Append adds one turn to the cached window, dropping the oldest beyond
// the size bound. Appends are single-writer; concurrent reads are safe.
func (c *TurnCache) Append(conversationID string, threadID *string, turn models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.Get(conversationID, threadID)
	window = append(append([]models.Turn(nil), window...), turn)
	if len(window) > c.maxSize {
		window = window[len(window)-c.maxSize:]
	}
	c.cache.SetWithTTL(turnKey(conversationID, threadID), window, 1, c.ttl)
	c.cache.Wait()
}

// Evict drops the window for a conversation.
func (c *TurnCache) Evict(conversationID string, threadID *string) {
	c.cache.Del(turnKey(conversationID, threadID))
}

// Close releases cache resources.
func (c *TurnCache) Close() {
	c.cache.Close()
}

// WeightCache holds per-actor interaction weights per conversation,
// rebuilt from message counts when stale.
type WeightCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewWeightCache creates a weight cache for at most maxEntries
// conversations.
func NewWeightCache(maxEntries int64, ttl time.Duration) (*WeightCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &WeightCache{cache: c, ttl: ttl}, nil
}

// Get returns the actor weight map for a conversation, or nil on miss.
func (c *WeightCache) Get(conversationID string) map[string]float64 {
	v, ok := c.cache.Get(conversationID)
	if !ok {
		return nil
	}
	weights, ok := v.(map[string]float64)
	if !ok {
		return nil
	}
	return weights
}

// Put stores the actor weight map for a conversation.
func (c *WeightCache) Put(conversationID string, weights map[string]float64) {
	c.cache.SetWithTTL(conversationID, weights, 1, c.ttl)
	c.cache.Wait()
}

// Evict drops the weight map for a conversation.
func (c *WeightCache) Evict(conversationID string) {
	c.cache.Del(conversationID)
}

// Close releases cache resources.
func (c *WeightCache) Close() {
	c.cache.Close()
}
