package fakelockoutrepo

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/lockout"
)

var _ lockout.Store = (*FakeCounterStore)(nil)

type FakeCounterStore struct {
	counters map[lockout.Key]lockout.Counter
	lock     sync.Mutex

	// err, when set, is returned from every call to simulate an outage
	err error
}

func NewFakeCounterStore() *FakeCounterStore {
	return &FakeCounterStore{
		counters: make(map[lockout.Key]lockout.Counter),
	}
}

func (fs *FakeCounterStore) SetErr(err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.err = err
}

func (fs *FakeCounterStore) RecordFailure(_ context.Context, key lockout.Key, rule lockout.Rule, now time.Time) (lockout.Counter, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.err != nil {
		return lockout.Counter{}, errors.Unavailable("record failed attempt", fs.err)
	}
	c := lockout.Next(fs.counters[key], rule, now)
	fs.counters[key] = c
	return c, nil
}

func (fs *FakeCounterStore) Get(_ context.Context, key lockout.Key, rule lockout.Rule, now time.Time) (lockout.Counter, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.err != nil {
		return lockout.Counter{}, errors.Unavailable("get failed attempts", fs.err)
	}
	return lockout.Current(fs.counters[key], rule, now), nil
}

func (fs *FakeCounterStore) Reset(_ context.Context, key lockout.Key) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.err != nil {
		return errors.Unavailable("reset failed attempts", fs.err)
	}
	delete(fs.counters, key)
	return nil
}
