package passwords

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many hash computations run at once. Argon2id is deliberately
// slow and memory hungry, so unbounded parallel logins would starve the process.
type Pool struct {
	hasher *Hasher
	sem    *semaphore.Weighted

	dummy string
}

// NewPool runs at most workers concurrent Hash/Verify calls on hasher. The
// dummy digest is computed here, before the pool serves any request.
func NewPool(hasher *Hasher, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	dummy, err := hasher.Hash("dummy-" + randomSuffix())
	if err != nil {
		dummy = "$argon2id$v=19$m=65536,t=3,p=4$c29tZXNhbHRzb21lc2FsdA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	}
	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
		dummy:  dummy,
	}
}

// Hasher returns the underlying hasher
func (p *Pool) Hasher() *Hasher {
	return p.hasher
}

// Hash waits for a free slot then hashes secret
func (p *Pool) Hash(ctx context.Context, secret string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(secret)
}

// Verify waits for a free slot then verifies secret. A context error is
// returned as-is so callers can tell abandonment from a wrong password.
func (p *Pool) Verify(ctx context.Context, secret, digest string) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(secret, digest)
}

// acquire refuses work for an abandoned caller even when a slot is free
func (p *Pool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.sem.Acquire(ctx, 1)
}

// NeedsRehash is a pass-through to the hasher
func (p *Pool) NeedsRehash(digest string) bool {
	return p.hasher.NeedsRehash(digest)
}

// DummyDigest returns a valid digest of a random secret at the pool's cost.
// Verifying against it when no credential exists keeps the timing of "unknown
// user" and "wrong password" indistinguishable.
func (p *Pool) DummyDigest() string {
	return p.dummy
}
