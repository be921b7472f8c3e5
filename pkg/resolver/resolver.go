// Package resolver maps a market reference to tradable instrument identifiers
// through an ordered fallback chain of extractors, each reporting a
// confidence and an audit trail.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsworks/linesignal/pkg/teams"
)

// Query is a market reference: an identifier, a descriptive URL, or team
// names within a sport.
type Query struct {
	ConditionID string `json:"condition_id,omitempty"`
	MarketURL   string `json:"market_url,omitempty"`
	HomeTeam    string `json:"team_home,omitempty"`
	AwayTeam    string `json:"team_away,omitempty"`
	Sport       string `json:"sport,omitempty"`
}

// Ref returns the cache key for the query: the condition id when known,
// otherwise a normalized composite of sport and teams.
func (q Query) Ref() string {
	if q.ConditionID != "" {
		return q.ConditionID
	}
	return strings.Join([]string{
		q.Sport,
		teams.Normalize(q.HomeTeam),
		teams.Normalize(q.AwayTeam),
	}, "|")
}

// LogEntry is one line of the cumulative audit trail.
type LogEntry struct {
	Extractor string    `json:"extractor"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Resolution is the outcome of a resolution attempt, cached by query ref.
type Resolution struct {
	QueryRef    string     `json:"query_ref"`
	ConditionID string     `json:"condition_id,omitempty"`
	TokenA      string     `json:"outcome_token_a,omitempty"`
	TokenB      string     `json:"outcome_token_b,omitempty"`
	Source      string     `json:"source"`
	Confidence  float64    `json:"confidence"` // 0-100
	Tradeable   bool       `json:"tradeable"`
	Reason      string     `json:"reason_if_untradeable,omitempty"`
	ResolvedAt  time.Time  `json:"resolved_at"`
	Log         []LogEntry `json:"log"`
}

// Attempt is a single extractor's successful result.
type Attempt struct {
	ConditionID string
	TokenA      string
	TokenB      string
	Confidence  float64
	Detail      string
}

// Extractor is one strategy for resolving instrument identifiers.
type Extractor interface {
	Name() string
	// Resolve returns an attempt or an error describing why it failed.
	Resolve(ctx context.Context, q Query) (*Attempt, error)
}

// Cache stores resolutions, successes and failures alike, keyed by query ref.
type Cache interface {
	Get(queryRef string) (*Resolution, bool, error)
	Put(res *Resolution) error
}

// Config holds resolver timing parameters.
type Config struct {
	SuccessTTL  time.Duration // cached success lifetime
	FailureTTL  time.Duration // cached failure lifetime before retry
	CallTimeout time.Duration // per-extractor timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SuccessTTL:  time.Hour,
		FailureTTL:  10 * time.Minute,
		CallTimeout: 10 * time.Second,
	}
}

// Resolver runs the fallback chain with a read-through cache.
type Resolver struct {
	cfg        *Config
	extractors []Extractor
	cache      Cache
	log        zerolog.Logger
}

// New creates a resolver over an ordered extractor chain. cache may be nil.
func New(cfg *Config, extractors []Extractor, cache Cache, log zerolog.Logger) *Resolver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Resolver{cfg: cfg, extractors: extractors, cache: cache, log: log}
}

// Resolve resolves a query. A fresh cache entry short-circuits the chain
// entirely; a miss or a stale entry runs extractors strictly in priority
// order, stopping at the first success. Every attempt appends to the
// cumulative audit log regardless of which extractor ultimately succeeds.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	ref := q.Ref()

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ref)
		if err != nil {
			r.log.Warn().Err(err).Str("query_ref", ref).Msg("resolution cache read failed")
		} else if ok && r.fresh(cached) {
			return cached, nil
		}
	}

	res := &Resolution{
		QueryRef:   ref,
		ResolvedAt: time.Now(),
	}

	for _, ex := range r.extractors {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		attempt, err := ex.Resolve(callCtx, q)
		cancel()

		if err != nil {
			res.Log = append(res.Log, LogEntry{
				Extractor: ex.Name(),
				Success:   false,
				Detail:    err.Error(),
				At:        time.Now(),
			})
			continue
		}

		res.Log = append(res.Log, LogEntry{
			Extractor: ex.Name(),
			Success:   true,
			Detail:    attempt.Detail,
			At:        time.Now(),
		})
		res.ConditionID = attempt.ConditionID
		res.TokenA = attempt.TokenA
		res.TokenB = attempt.TokenB
		res.Source = ex.Name()
		res.Confidence = attempt.Confidence
		res.Tradeable = true
		break
	}

	if !res.Tradeable {
		res.Reason = "all extractors failed"
	}

	if r.cache != nil {
		if err := r.cache.Put(res); err != nil {
			r.log.Warn().Err(err).Str("query_ref", ref).Msg("resolution cache write failed")
		}
	}

	r.log.Debug().
		Str("query_ref", ref).
		Bool("tradeable", res.Tradeable).
		Str("source", res.Source).
		Float64("confidence", res.Confidence).
		Int("attempts", len(res.Log)).
		Msg("instrument resolution")
	return res, nil
}

// ResolveBatch resolves independent queries concurrently. Order of the
// results matches the order of the queries; units of work are independent
// and idempotent, so there is no cross-query ordering requirement.
func (r *Resolver) ResolveBatch(ctx context.Context, queries []Query, concurrency int) []*Resolution {
	if concurrency < 1 {
		concurrency = 4
	}
	results := make([]*Resolution, len(queries))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := r.Resolve(ctx, q)
			if err != nil {
				res = &Resolution{
					QueryRef:  q.Ref(),
					Tradeable: false,
					Reason:    err.Error(),
				}
			}
			results[i] = res
		}(i, q)
	}
	wg.Wait()
	return results
}

func (r *Resolver) fresh(res *Resolution) bool {
	ttl := r.cfg.FailureTTL
	if res.Tradeable {
		ttl = r.cfg.SuccessTTL
	}
	return time.Since(res.ResolvedAt) < ttl
}

// MemoryCache is a mutex-guarded in-memory Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Resolution
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Resolution)}
}

// Get returns the cached resolution for a query ref.
func (c *MemoryCache) Get(queryRef string) (*Resolution, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[queryRef]
	return res, ok, nil
}

// Put stores a resolution.
func (c *MemoryCache) Put(res *Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[res.QueryRef] = res
	return nil
}
