// Package redisledger appends audit events to a per-tenant hash chain in Redis.
// Each entry's hash covers the previous hash and the event, so editing or
// dropping an entry breaks every hash after it.
package redisledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/go-tenant-auth/audit"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ audit.Recorder = (*Ledger)(nil)

const (
	DefaultKeyPrefix = "auth:"
	// DefaultMaxAttempts bounds optimistic retries when appends race
	DefaultMaxAttempts = 10
	verifyPage         = 500
)

var ErrChainConflict = errors.New("audit chain append kept conflicting")

// Entry is one stored link of the chain
type Entry struct {
	Index    int64       `json:"index"`
	Event    audit.Event `json:"event"`
	PrevHash string      `json:"prev_hash"`
	Hash     string      `json:"hash"`
}

// BrokenChainError reports the first entry whose link does not verify
type BrokenChainError struct {
	TenantID string
	Index    int64
	Reason   string
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("audit chain for tenant %q broken at entry %d: %s", e.TenantID, e.Index, e.Reason)
}

type Ledger struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
	logger      zerolog.Logger
}

type Option func(*Ledger)

func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) {
		l.prefix = prefix
	}
}

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		l.maxAttempts = n
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(client redis.UniversalClient, options ...Option) *Ledger {
	l := &Ledger{
		client:      client,
		prefix:      DefaultKeyPrefix,
		maxAttempts: DefaultMaxAttempts,
		logger:      log.Logger,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// both keys share a hash tag so WATCH and MULTI stay on one slot
func (l *Ledger) headKey(tenantID string) string {
	return l.prefix + "audit:{" + tenantID + "}:head"
}

func (l *Ledger) logKey(tenantID string) string {
	return l.prefix + "audit:{" + tenantID + "}:log"
}

// ComputeHash is hex(sha256(prevHash || json(event)))
func ComputeHash(prevHash string, e audit.Event) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrapf(err, "encode audit event")
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Ledger) Record(ctx context.Context, e audit.Event) error {
	_, err := l.Append(ctx, e)
	return err
}

// Append links e to the tenant's chain. Concurrent appends from other
// instances are detected by WATCH on the head and retried.
func (l *Ledger) Append(ctx context.Context, e audit.Event) (Entry, error) {
	if e.TenantID == "" {
		return Entry{}, errors.Wrapf(errors.ErrInvalidTenant, "audit event %s has no tenant", e.Type)
	}
	e.Time = e.Time.UTC()
	head, list := l.headKey(e.TenantID), l.logKey(e.TenantID)

	var entry Entry
	txf := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, head).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		n, err := tx.LLen(ctx, list).Result()
		if err != nil {
			return err
		}
		hash, err := ComputeHash(prev, e)
		if err != nil {
			return err
		}
		entry = Entry{Index: n, Event: e, PrevHash: prev, Hash: hash}
		body, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, list, body)
			pipe.Set(ctx, head, hash, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		err := l.client.Watch(ctx, txf, head)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Entry{}, errors.Unavailable("append audit event", err)
	}
	l.logger.Error().Str("tenant", e.TenantID).Int("attempts", l.maxAttempts).Msg("audit append gave up")
	return Entry{}, ErrChainConflict
}

// Verify walks the tenant's chain and returns the number of intact entries.
// A broken link returns a *BrokenChainError naming the first bad index.
func (l *Ledger) Verify(ctx context.Context, tenantID string) (int64, error) {
	key := l.logKey(tenantID)
	prev := ""
	var index int64
	for {
		page, err := l.client.LRange(ctx, key, index, index+verifyPage-1).Result()
		if err != nil {
			return index, errors.Unavailable("read audit chain", err)
		}
		for _, raw := range page {
			var entry Entry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				return index, &BrokenChainError{TenantID: tenantID, Index: index, Reason: "undecodable entry"}
			}
			if entry.Index != index {
				return index, &BrokenChainError{TenantID: tenantID, Index: index, Reason: "index out of sequence"}
			}
			if entry.PrevHash != prev {
				return index, &BrokenChainError{TenantID: tenantID, Index: index, Reason: "previous hash mismatch"}
			}
			want, err := ComputeHash(prev, entry.Event)
			if err != nil {
				return index, err
			}
			if entry.Hash != want {
				return index, &BrokenChainError{TenantID: tenantID, Index: index, Reason: "entry hash mismatch"}
			}
			prev = entry.Hash
			index++
		}
		if len(page) < verifyPage {
			break
		}
	}

	head, err := l.client.Get(ctx, l.headKey(tenantID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return index, errors.Unavailable("read audit head", err)
	}
	if head != prev {
		return index, &BrokenChainError{TenantID: tenantID, Index: index, Reason: "head does not match last entry"}
	}
	return index, nil
}
