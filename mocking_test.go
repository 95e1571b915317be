// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"fmt"
	"sync"
)

// sourceCall records a single call to the fake EventSource.
type sourceCall struct {
	F string // "Register", "Unregister", "Close"
	P string
	E Event
	H Handle
}

// fakeSource is a scriptable EventSource for engine and table tests. It
// records every call, hands out sequential handles and serves batches
// pushed through push; ReadBatch honors Wake the way a real backend does.
type fakeSource struct {
	mu          sync.Mutex
	calls       []sourceCall
	next        Handle
	registered  map[Handle]string
	registerErr error

	batches chan []RawRecord
	wake    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		registered: make(map[Handle]string),
		batches:    make(chan []RawRecord, 16),
		wake:       make(chan struct{}, 1),
	}
}

func (s *fakeSource) record(c sourceCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// Calls returns a snapshot of everything recorded so far.
func (s *fakeSource) Calls() []sourceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sourceCall(nil), s.calls...)
}

// push schedules one batch for the next ReadBatch call.
func (s *fakeSource) push(recs ...RawRecord) {
	s.batches <- recs
}

func (s *fakeSource) Register(path string, mask Event) (Handle, error) {
	s.record(sourceCall{F: "Register", P: path, E: mask})
	if s.registerErr != nil {
		return -1, s.registerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.registered[s.next] = path
	return s.next, nil
}

func (s *fakeSource) Unregister(h Handle) error {
	s.record(sourceCall{F: "Unregister", H: h})
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[h]; !ok {
		return fmt.Errorf("fake: handle %d: %w", h, ErrUnknownHandle)
	}
	delete(s.registered, h)
	return nil
}

func (s *fakeSource) ReadBatch() ([]RawRecord, error) {
	select {
	case batch := <-s.batches:
		return batch, nil
	case <-s.wake:
		return nil, nil
	}
}

// DecodeMask is the identity: the fake's native bits are the portable ones.
func (s *fakeSource) DecodeMask(mask uint64) Event { return Event(mask) }

func (s *fakeSource) Wake() error {
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.record(sourceCall{F: "Close"})
	return s.Wake()
}
