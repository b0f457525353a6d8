// Package mfa keeps one-time codes one-time: a TOTP time step accepted for a
// user is never accepted again.
package mfa

import (
	"context"
	"sync"
	"time"
)

// Guard records the last accepted TOTP time step per user
type Guard interface {
	// Accept stores step as the user's latest step and reports false when it
	// is not newer than the one already accepted. The record lives for ttl.
	Accept(ctx context.Context, tenantID, userID string, step int64, ttl time.Duration) (bool, error)
}

var _ Guard = (*MemoryGuard)(nil)

type lastStep struct {
	step      int64
	expiresAt time.Time
}

// MemoryGuard is a Guard for a single process
type MemoryGuard struct {
	mu      sync.Mutex
	nowFunc func() time.Time
	last    map[string]lastStep
}

func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{nowFunc: now, last: make(map[string]lastStep)}
}

func (g *MemoryGuard) Accept(_ context.Context, tenantID, userID string, step int64, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFunc()
	for k, v := range g.last {
		if !now.Before(v.expiresAt) {
			delete(g.last, k)
		}
	}

	key := tenantID + ":" + userID
	if prev, ok := g.last[key]; ok && prev.step >= step {
		return false, nil
	}
	g.last[key] = lastStep{step: step, expiresAt: now.Add(ttl)}
	return true, nil
}
