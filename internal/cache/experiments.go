package cache

import (
	"time"

	"github.com/storefront-labs/pricelab/internal/api"
)

type experimentKey struct {
	storeID string
	id      string
}

// Experiments caches reconstructed experiments that reached a terminal state.
// Running experiments are never cached since a stop can land at any time.
// A nil *Experiments is a valid, disabled cache.
type Experiments struct {
	lru *LRUWithTTL[experimentKey, api.Experiment]
}

// NewExperiments returns nil (disabled) when size <= 0
func NewExperiments(size int, ttl time.Duration) (*Experiments, error) {
	if size <= 0 {
		return nil, nil
	}

	l, err := NewLRUWithTTL[experimentKey, api.Experiment](size, ttl)
	if err != nil {
		return nil, err
	}
	return &Experiments{lru: l}, nil
}

func (e *Experiments) Get(storeID, id string) (api.Experiment, bool) {
	if e == nil {
		return api.Experiment{}, false
	}
	return e.lru.Get(experimentKey{storeID, id})
}

// Put stores exp if it is stopped and reports whether it was cached
func (e *Experiments) Put(storeID string, exp api.Experiment) bool {
	if e == nil || exp.Status != api.StatusStopped {
		return false
	}
	e.lru.Set(experimentKey{storeID, exp.ID}, exp)
	return true
}

// Invalidate drops any entry for id; called after every local append
func (e *Experiments) Invalidate(storeID, id string) {
	if e == nil {
		return
	}
	e.lru.Delete(experimentKey{storeID, id})
}

func (e *Experiments) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return e.lru.Stats()
}
