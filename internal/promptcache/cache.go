// Package promptcache implements the router's two-tier prompt cache: an L1
// exact-match hash/LRU cache backed by an in-memory map, and an optional L2
// semantic-similarity cache backed by a vector store.
package promptcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Qdrant collection used for the semantic L2 cache.
const (
	VectorCollection = "prompt_cache"
	EmbeddingDim      = 768
)

// Entry is a single cached prompt/response pair.
type Entry struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Hits      int64     `json:"hits"`
}

// Stats holds atomic hit/miss counters, following the same
// increment-and-read-via-atomic pattern used elsewhere in the router for
// concurrently accessed counters.
type Stats struct {
	l1Hits   int64
	l1Misses int64
	l2Hits   int64
	l2Misses int64
}

func (s *Stats) recordL1Hit()  { atomic.AddInt64(&s.l1Hits, 1) }
func (s *Stats) recordL1Miss() { atomic.AddInt64(&s.l1Misses, 1) }
func (s *Stats) recordL2Hit()  { atomic.AddInt64(&s.l2Hits, 1) }
func (s *Stats) recordL2Miss() { atomic.AddInt64(&s.l2Misses, 1) }

func (s *Stats) reset() {
	atomic.StoreInt64(&s.l1Hits, 0)
	atomic.StoreInt64(&s.l1Misses, 0)
	atomic.StoreInt64(&s.l2Hits, 0)
	atomic.StoreInt64(&s.l2Misses, 0)
}

// Snapshot is a read-only view of cache statistics suitable for JSON
// marshaling on a /stats endpoint.
type Snapshot struct {
	L1Hits         int64   `json:"l1_hits"`
	L1Misses       int64   `json:"l1_misses"`
	L2Hits         int64   `json:"l2_hits"`
	L2Misses       int64   `json:"l2_misses"`
	TotalEntries   int     `json:"total_entries"`
	HitRate        float64 `json:"hit_rate"`
	VectorEnabled bool    `json:"vector_store_available"`
	L2Entries      int64   `json:"l2_entries"`
}

// VectorStore is the narrow interface the L2 semantic cache depends on,
// letting the real vector-store client be swapped for a fake in tests.
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Search(ctx context.Context, vector []float32, scoreThreshold float32) (*VectorMatch, error)
	Upsert(ctx context.Context, id string, vector []float32, entry Entry, promptHash string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// VectorMatch is a single hit returned from the L2 similarity search.
type VectorMatch struct {
	Entry Entry
	Score float32
}

// Config tunes the cache's capacity and semantic matching behavior.
type Config struct {
	MaxSize             int
	SimilarityThreshold float32
}

// DefaultConfig mirrors the router's default cache tunables.
func DefaultConfig() Config {
	return Config{MaxSize: 1000, SimilarityThreshold: 0.85}
}

type element struct {
	hash  string
	entry *Entry
}

// Cache is the two-tier prompt cache. L1 lookups never touch the vector
// store; L2 is only consulted on an L1 miss, and only when the caller
// supplies an embedding.
type Cache struct {
	cfg   Config
	log   *logrus.Entry
	store VectorStore

	mu    sync.Mutex
	ll    *list.List
	index map[string]*list.Element

	stats Stats
}

// New builds a cache. store may be nil to disable the L2 tier entirely.
func New(cfg Config, store VectorStore, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.New()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	c := &Cache{
		cfg:   cfg,
		log:   log.WithField("component", "promptcache"),
		store: store,
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
	if store != nil {
		if err := store.EnsureCollection(context.Background()); err != nil {
			c.log.Warnf("vector store unavailable, L2 cache disabled: %v", err)
			c.store = nil
		}
	}
	return c
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// Get looks up prompt in L1 first, falling back to L2 semantic similarity
// when embedding is non-nil and a vector store is configured. An L2 hit is
// NOT promoted into L1: the router's original cache made no such promise,
// and promoting would let a single wide semantic match monopolize L1 slots
// that exact-match traffic depends on.
func (c *Cache) Get(ctx context.Context, prompt string, embedding []float32) (*Entry, bool) {
	hash := hashPrompt(prompt)

	c.mu.Lock()
	if el, ok := c.index[hash]; ok {
		c.ll.MoveToFront(el)
		e := el.Value.(*element).entry
		e.Hits++
		c.stats.recordL1Hit()
		c.mu.Unlock()
		c.log.Debugf("L1 cache hit for prompt hash %s", hash)
		cp := *e
		return &cp, true
	}
	c.mu.Unlock()
	c.stats.recordL1Miss()

	if embedding == nil || c.store == nil {
		return nil, false
	}

	match, err := c.store.Search(ctx, embedding, c.cfg.SimilarityThreshold)
	if err != nil {
		c.log.Warnf("vector store search failed: %v", err)
		c.stats.recordL2Miss()
		return nil, false
	}
	if match == nil {
		c.stats.recordL2Miss()
		return nil, false
	}

	match.Entry.Hits++
	c.stats.recordL2Hit()
	c.log.Debug("L2 cache hit via semantic similarity")
	return &match.Entry, true
}

// Put stores prompt/response/model in L1, evicting the least recently used
// entry if the cache is full, and also stores it in L2 when embedding and a
// vector store are available.
func (c *Cache) Put(ctx context.Context, prompt, response, model string, embedding []float32) {
	entry := &Entry{Prompt: prompt, Response: response, Model: model, CreatedAt: time.Now()}
	hash := hashPrompt(prompt)

	c.mu.Lock()
	if el, ok := c.index[hash]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*element).entry = entry
	} else {
		if c.ll.Len() >= c.cfg.MaxSize {
			oldest := c.ll.Back()
			if oldest != nil {
				c.ll.Remove(oldest)
				delete(c.index, oldest.Value.(*element).hash)
			}
		}
		el := c.ll.PushFront(&element{hash: hash, entry: entry})
		c.index[hash] = el
	}
	c.mu.Unlock()

	if embedding != nil && c.store != nil {
		if err := c.store.Upsert(ctx, hash, embedding, *entry, hash); err != nil {
			c.log.Warnf("failed to store in vector store: %v", err)
		}
	}
}

// Clear empties both tiers and resets statistics.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.ll = list.New()
	c.index = make(map[string]*list.Element)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.log.Warnf("failed to clear vector store: %v", err)
		}
	}

	c.stats.reset()
	c.log.Info("cache cleared")
}

// Stats returns a snapshot of cache statistics, including L2 entry count
// when a vector store is configured.
func (c *Cache) Stats(ctx context.Context) Snapshot {
	c.mu.Lock()
	total := c.ll.Len()
	c.mu.Unlock()

	l1h := atomic.LoadInt64(&c.stats.l1Hits)
	l1m := atomic.LoadInt64(&c.stats.l1Misses)
	l2h := atomic.LoadInt64(&c.stats.l2Hits)
	l2m := atomic.LoadInt64(&c.stats.l2Misses)

	snap := Snapshot{
		L1Hits:        l1h,
		L1Misses:      l1m,
		L2Hits:        l2h,
		L2Misses:      l2m,
		TotalEntries:  total,
		VectorEnabled: c.store != nil,
	}

	sum := l1h + l1m + l2h + l2m
	if sum > 0 {
		snap.HitRate = float64(l1h+l2h) / float64(sum)
	}

	if c.store != nil {
		if n, err := c.store.Count(ctx); err == nil {
			snap.L2Entries = n
		}
	}

	return snap
}
