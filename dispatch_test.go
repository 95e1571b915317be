// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"errors"
	"testing"
	"time"
)

// watchOne registers path on a fresh notifier over a fake source and
// returns both plus the handle the fake assigned.
func watchOne(t *testing.T, path string, events ...Event) (*Notifier, *fakeSource, Handle) {
	t.Helper()
	s := newFakeSource()
	n := NewNotifier(s).WatchFile(path, events...)
	if err := n.Err(); err != nil {
		t.Fatalf("WatchFile(%q)=%v", path, err)
	}
	var h Handle
	for handle := range n.table.watches {
		h = handle
	}
	return n, s, h
}

func TestDispatchMatchingCallback(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path, Close)
	got := make(chan Notification, 1)
	n.OnEvent(CloseWrite, func(note Notification) { got <- note })

	s.push(RawRecord{Handle: h, Mask: uint64(CloseWrite)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}

	note := expect(t, got)
	if note.Event != CloseWrite {
		t.Errorf("Event=%v; want %v", note.Event, CloseWrite)
	}
	if note.Path != path {
		t.Errorf("Path=%q; want %q", note.Path, path)
	}
}

func TestDispatchInsertionOrder(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	var order []int
	n.OnEvent(Open, func(Notification) { order = append(order, 1) })
	n.OnEvent(Open, func(Notification) { order = append(order, 2) })
	n.OnEvent(All, func(Notification) { order = append(order, 3) })

	s.push(RawRecord{Handle: h, Mask: uint64(Open)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired as %v; want [1 2 3]", order)
	}
}

func TestDispatchDisjointCallbacks(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	opens := make(chan Notification, 1)
	closes := make(chan Notification, 1)
	n.OnEvent(Open, func(note Notification) { opens <- note })
	n.OnEvent(CloseWrite, func(note Notification) { closes <- note })

	s.push(
		RawRecord{Handle: h, Mask: uint64(Open)},
		RawRecord{Handle: h, Mask: uint64(CloseWrite)},
	)
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}

	if note := expect(t, opens); note.Event != Open {
		t.Errorf("Event=%v; want %v", note.Event, Open)
	}
	if note := expect(t, closes); note.Event != CloseWrite {
		t.Errorf("Event=%v; want %v", note.Event, CloseWrite)
	}
	expectDry(t, opens, 50*time.Millisecond)
	expectDry(t, closes, 50*time.Millisecond)
}

func TestDispatchUnexpectedFallback(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	unexpected := make(chan Notification, 1)
	n.OnEvent(Open, func(Notification) { t.Error("open callback fired for delete") })
	n.OnUnexpectedEvent(func(note Notification) { unexpected <- note })

	s.push(RawRecord{Handle: h, Mask: uint64(Delete)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	if note := expect(t, unexpected); note.Event != Delete {
		t.Errorf("Event=%v; want %v", note.Event, Delete)
	}
}

func TestDispatchUnmatchedDropped(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	n.OnEvent(Open, func(Notification) { t.Error("open callback fired for delete") })

	// No unexpected-event callback registered: the notification is
	// dropped without error.
	s.push(RawRecord{Handle: h, Mask: uint64(Delete)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
}

func TestDispatchIgnore(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 2)
	n.Ignore(path).OnEvent(All, func(note Notification) { got <- note })

	for i := 0; i < 2; i++ {
		s.push(RawRecord{Handle: h, Mask: uint64(Open)})
		if err := n.RunOnce(); err != nil {
			t.Fatalf("RunOnce()=%v", err)
		}
	}
	expectDry(t, got, 50*time.Millisecond)
}

func TestDispatchIgnoreOnce(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 2)
	n.IgnoreOnce(path).OnEvent(All, func(note Notification) { got <- note })

	for i := 0; i < 2; i++ {
		s.push(RawRecord{Handle: h, Mask: uint64(Open)})
		if err := n.RunOnce(); err != nil {
			t.Fatalf("RunOnce()=%v", err)
		}
	}
	// Exactly the second notification survives.
	note := expect(t, got)
	if note.Event != Open || note.Path != path {
		t.Errorf("got %v on %q; want %v on %q", note.Event, note.Path, Open, path)
	}
	expectDry(t, got, 50*time.Millisecond)
}

func TestDecodeErrorSkipsRecord(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 1)
	seen := make(chan error, 1)
	n.OnEvent(All, func(note Notification) { got <- note }).
		OnError(func(err error) { seen <- err })

	s.push(
		RawRecord{Err: &DecodeError{Offset: 0, Reason: "short event header"}},
		RawRecord{Handle: h, Mask: uint64(Modify)},
	)
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}

	var decErr *DecodeError
	select {
	case err := <-seen:
		if !errors.As(err, &decErr) {
			t.Errorf("observed %T; want *DecodeError", err)
		}
	case <-time.After(timeout()):
		t.Fatal("decode error was not observed")
	}
	// The record after the bad one is still dispatched.
	if note := expect(t, got); note.Event != Modify {
		t.Errorf("Event=%v; want %v", note.Event, Modify)
	}
}

func TestStaleHandleDropped(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, _ := watchOne(t, path)
	got := make(chan Notification, 1)
	n.OnEvent(All, func(note Notification) { got <- note })

	s.push(RawRecord{Handle: 12345, Mask: uint64(Open)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	expectDry(t, got, 50*time.Millisecond)
}

func TestDeleteSelfRetiresWatch(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 1)
	n.OnEvent(DeleteSelf, func(note Notification) { got <- note })

	s.push(RawRecord{Handle: h, Mask: uint64(DeleteSelf)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	// The self-delete is still delivered, then the entry is dropped.
	if note := expect(t, got); note.Path != path {
		t.Errorf("Path=%q; want %q", note.Path, path)
	}
	if _, _, ok := n.table.ResolvePath(h, ""); ok {
		t.Error("watch entry survived a delete_self notification")
	}
}

func TestExpiredRecordRetiresWatch(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 1)
	n.OnEvent(All, func(note Notification) { got <- note })

	s.push(RawRecord{Handle: h, Expired: true})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	expectDry(t, got, 50*time.Millisecond)
	if _, _, ok := n.table.ResolvePath(h, ""); ok {
		t.Error("watch entry survived an expiry record")
	}
}

func TestStopUnblocksRun(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, _, _ := watchOne(t, path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := n.Run(); err != nil {
			t.Errorf("Run()=%v", err)
		}
	}()

	// No filesystem activity happens; only Stop can unblock the read.
	time.Sleep(20 * time.Millisecond)
	n.Stop()
	join(t, done, time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, _, _ := watchOne(t, path)

	n.Stop()
	n.Stop()
	// Stop before the run: RunOnce returns without blocking.
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce() after Stop()=%v", err)
	}
}

func TestEventTimeout(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 1)
	timeouts := make(chan Notification, 4)
	n.OnEvent(All, func(note Notification) { got <- note }).
		SetEventTimeout(50*time.Millisecond, func(note Notification) { timeouts <- note })

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run()
	}()

	// Armed at run start, fires once with no event delivered yet.
	note := expect(t, timeouts)
	if note != (Notification{}) {
		t.Errorf("first timeout carried %v; want zero Notification", note)
	}
	// Disarmed until the next event...
	expectDry(t, timeouts, 120*time.Millisecond)

	// ...which re-arms it.
	s.push(RawRecord{Handle: h, Mask: uint64(Modify)})
	expect(t, got)
	note = expect(t, timeouts)
	if note.Event != Modify || note.Path != path {
		t.Errorf("re-armed timeout carried %v on %q; want %v on %q", note.Event, note.Path, Modify, path)
	}

	n.Stop()
	join(t, done, time.Second)
}

func TestMoveSelfReleasesKernelWatch(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)
	got := make(chan Notification, 1)
	n.OnEvent(MoveSelf, func(note Notification) { got <- note })

	s.push(RawRecord{Handle: h, Mask: uint64(MoveSelf)})
	if err := n.RunOnce(); err != nil {
		t.Fatalf("RunOnce()=%v", err)
	}
	if note := expect(t, got); note.Path != path {
		t.Errorf("Path=%q; want %q", note.Path, path)
	}
	if _, _, ok := n.table.ResolvePath(h, ""); ok {
		t.Error("watch entry survived a move_self notification")
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close()=%v", err)
	}
	// The kernel keeps a moved watch alive, so retiring the entry must
	// have gone through Unregister rather than dropping the handle.
	var registers, unregisters int
	for _, c := range s.Calls() {
		switch c.F {
		case "Register":
			registers++
		case "Unregister":
			unregisters++
		}
	}
	if registers != unregisters {
		t.Fatalf("%d registrations but %d releases after move_self + Close", registers, unregisters)
	}
}

func TestConfigErrorSurfacesWhileRunning(t *testing.T) {
	path := tmpfile(t, t.TempDir())
	n, s, h := watchOne(t, path)

	done := make(chan error, 1)
	go func() { done <- n.Run() }()

	// Ignore fails on the caller's goroutine while the loop holds the
	// blocking read; the next batch boundary must observe the error.
	n.Ignore("/not/existing/path")
	s.push(RawRecord{Handle: h, Mask: uint64(Open)})

	select {
	case err := <-done:
		if !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Run()=%v; want ErrInvalidPath", err)
		}
	case <-time.After(timeout()):
		t.Fatal("Run did not observe the configuration error")
	}
}

func TestRunReportsStickyError(t *testing.T) {
	n := NewNotifier(newFakeSource()).WatchFile("/not/existing/file")
	if err := n.Run(); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Run()=%v; want ErrInvalidPath", err)
	}
	if err := n.RunOnce(); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("RunOnce()=%v; want ErrInvalidPath", err)
	}
}

func TestRegisterFailurePropagates(t *testing.T) {
	s := newFakeSource()
	s.registerErr = ErrResourceExhausted
	n := NewNotifier(s).WatchFile(tmpfile(t, t.TempDir()))
	if err := n.Err(); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Err()=%v; want ErrResourceExhausted", err)
	}
}
