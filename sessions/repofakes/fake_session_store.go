package fakesessionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/sessions"
)

var _ sessions.Store = (*FakeSessionStore)(nil)

type record struct {
	session sessions.Session
	lineage map[string]bool
}

// FakeSessionStore is an in-process sessions.Store with the same outcomes as the
// Redis store. The single lock stands in for Redis script atomicity.
type FakeSessionStore struct {
	sessions map[string]*record
	byUser   map[string]map[string]bool
	lock     sync.Mutex
	nowFunc  func() time.Time

	// Err, when set, is returned from every call to simulate an outage
	Err error
}

func NewFakeSessionStore(now func() time.Time) *FakeSessionStore {
	if now == nil {
		now = time.Now
	}
	return &FakeSessionStore{
		sessions: make(map[string]*record),
		byUser:   make(map[string]map[string]bool),
		nowFunc:  now,
	}
}

// SetErr swaps the simulated outage under lock
func (fs *FakeSessionStore) SetErr(err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.Err = err
}

func (fs *FakeSessionStore) fail(op string) error {
	if fs.Err == nil {
		return nil
	}
	return errors.Unavailable(op, fs.Err)
}

func (fs *FakeSessionStore) Create(_ context.Context, ns sessions.NewSession) (*sessions.Session, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("create session"); err != nil {
		return nil, err
	}
	if ns.ID == "" || !ns.ExpiresAt.After(ns.CreatedAt) {
		return nil, errors.Wrapf(errors.ErrInternal, "session %q needs an id and a future expiry", ns.ID)
	}

	created := ns.CreatedAt.Truncate(time.Millisecond).UTC()
	rec := &record{
		session: sessions.Session{
			ID:            ns.ID,
			TenantID:      ns.TenantID,
			UserID:        ns.UserID,
			RefreshHash:   ns.RefreshHash,
			CreatedAt:     created,
			LastRotatedAt: created,
			ExpiresAt:     ns.ExpiresAt.Truncate(time.Millisecond).UTC(),
		},
		lineage: make(map[string]bool),
	}
	fs.sessions[ns.ID] = rec

	uk := ns.TenantID + "\x00" + ns.UserID
	if fs.byUser[uk] == nil {
		fs.byUser[uk] = make(map[string]bool)
	}
	fs.byUser[uk][ns.ID] = true

	cp := rec.session
	return &cp, nil
}

func (fs *FakeSessionStore) Rotate(_ context.Context, r sessions.Rotation) (*sessions.Session, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("rotate session"); err != nil {
		return nil, err
	}

	rec, ok := fs.live(r.SessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	s := &rec.session
	switch {
	case s.Revoked:
		return nil, sessions.ErrSessionRevoked
	case !r.Now.Before(s.ExpiresAt):
		return nil, sessions.ErrSessionExpired
	case s.RefreshHash != r.PresentedHash && rec.lineage[r.PresentedHash]:
		s.Revoked = true
		s.RevokedAt = r.Now.Truncate(time.Millisecond).UTC()
		return nil, sessions.ErrReuseDetected
	case s.RefreshHash != r.PresentedHash:
		return nil, sessions.ErrRefreshMismatch
	}

	rec.lineage[s.RefreshHash] = true
	s.RefreshHash = r.NewHash
	s.LastRotatedAt = r.Now.Truncate(time.Millisecond).UTC()
	if !r.ExpiresAt.IsZero() {
		s.ExpiresAt = r.ExpiresAt.Truncate(time.Millisecond).UTC()
	}
	cp := *s
	return &cp, nil
}

func (fs *FakeSessionStore) Revoke(_ context.Context, sessionID string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("revoke session"); err != nil {
		return err
	}
	fs.revoke(sessionID)
	return nil
}

func (fs *FakeSessionStore) revoke(sessionID string) bool {
	now := fs.nowFunc()
	rec, ok := fs.live(sessionID)
	if !ok || rec.session.Revoked {
		return false
	}
	rec.session.Revoked = true
	rec.session.RevokedAt = now.Truncate(time.Millisecond).UTC()
	return true
}

func (fs *FakeSessionStore) RevokeUser(_ context.Context, tenantID, userID string) (int, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("revoke user sessions"); err != nil {
		return 0, err
	}

	revoked := 0
	for id := range fs.byUser[tenantID+"\x00"+userID] {
		if fs.revoke(id) {
			revoked++
		}
	}
	return revoked, nil
}

func (fs *FakeSessionStore) Get(_ context.Context, sessionID string) (*sessions.Session, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("get session"); err != nil {
		return nil, err
	}

	rec, ok := fs.live(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	cp := rec.session
	return &cp, nil
}

func (fs *FakeSessionStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail("sweep sessions"); err != nil {
		return 0, err
	}

	removed := 0
	for id, rec := range fs.sessions {
		if now.Before(rec.session.ExpiresAt) {
			continue
		}
		delete(fs.sessions, id)
		delete(fs.byUser[rec.session.TenantID+"\x00"+rec.session.UserID], id)
		removed++
	}
	return removed, nil
}

// Len counts stored records, including revoked tombstones
func (fs *FakeSessionStore) Len() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return len(fs.sessions)
}

// live returns the record unless the store clock has passed its expiry, the
// way a Redis TTL would have removed the key
func (fs *FakeSessionStore) live(sessionID string) (*record, bool) {
	rec, ok := fs.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if !fs.nowFunc().Before(rec.session.ExpiresAt) {
		delete(fs.sessions, sessionID)
		delete(fs.byUser[rec.session.TenantID+"\x00"+rec.session.UserID], sessionID)
		return nil, false
	}
	return rec, true
}
