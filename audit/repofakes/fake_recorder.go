package fakeaudit

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-tenant-auth/audit"
)

var _ audit.Recorder = (*FakeRecorder)(nil)

type FakeRecorder struct {
	events []audit.Event
	lock   sync.Mutex
	err    error
}

func NewFakeRecorder() *FakeRecorder {
	return &FakeRecorder{}
}

func (fr *FakeRecorder) SetErr(err error) {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	fr.err = err
}

func (fr *FakeRecorder) Record(_ context.Context, e audit.Event) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	if fr.err != nil {
		return fr.err
	}
	fr.events = append(fr.events, e)
	return nil
}

// Events returns a copy of everything recorded so far
func (fr *FakeRecorder) Events() []audit.Event {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	return append([]audit.Event(nil), fr.events...)
}

// Types lists recorded event types in order
func (fr *FakeRecorder) Types() []audit.EventType {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	types := make([]audit.EventType, len(fr.events))
	for i, e := range fr.events {
		types[i] = e.Type
	}
	return types
}
