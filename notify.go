// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

// BUG(harmjan): Notifications not consumed before the next poll of the
// kernel queue may be coalesced or dropped per kernel semantics. This
// package surfaces that behavior instead of hiding it; an overflowed inotify
// queue is reported through the error observer.

// BUG(harmjan): The fanotify facility cannot express the full event domain
// without FID reporting (create, delete, move). Watches registered through
// the fanotify backend deliver the access/modify/open/close subset only.

// Package notify turns kernel filesystem-change facilities into a typed,
// filtered stream of notifications without polling.
//
// A Notifier is assembled fluently and then run from a dedicated goroutine:
//
//	n := notify.NewInotifyNotifier().
//		WatchFile("/etc/hosts", notify.Close).
//		OnEvent(notify.CloseWrite, func(note notify.Notification) {
//			log.Println("rewritten:", note.Path)
//		})
//	if err := n.Err(); err != nil {
//		log.Fatal(err)
//	}
//	go n.Run()
//	...
//	n.Stop()
//	n.Close()
//
// Configuration happens before the run loop starts. Stop, Unwatch, Ignore
// and IgnoreOnce may additionally be called while the loop is running.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Notifier owns a watch table and a callback table and drives the dispatch
// loop over a backend EventSource. Zero value is not usable; construct with
// NewNotifier, NewInotifyNotifier or NewFanotifyNotifier.
//
// Path-taking methods verify that the path exists before touching any
// kernel resource and record ErrInvalidPath otherwise. The first recorded
// error sticks: later configuration calls become no-ops and Run/RunOnce
// report it without starting. Err exposes it directly.
type Notifier struct {
	src   EventSource
	table *watchTable

	callbacks  []callbackEntry
	unexpected callbackFn
	onError    func(error)
	timeoutFn  callbackFn
	timeoutDur time.Duration

	stopped atomic.Bool
	closed  atomic.Bool

	tmu      sync.Mutex
	timer    *time.Timer
	lastNote Notification

	// emu guards err: configuration methods may run concurrently with
	// the dispatch goroutine, which reads the sticky error every batch.
	emu sync.Mutex
	err error
}

// NewNotifier builds a notifier over an arbitrary EventSource. Most callers
// want NewInotifyNotifier or NewFanotifyNotifier instead; this constructor
// exists for custom backends and tests.
func NewNotifier(src EventSource) *Notifier {
	return &Notifier{src: src, table: newWatchTable(src)}
}

func failedNotifier(err error) *Notifier {
	return &Notifier{err: err}
}

// Err returns the first error recorded during fluent configuration, or nil.
func (n *Notifier) Err() error {
	n.emu.Lock()
	defer n.emu.Unlock()
	return n.err
}

// setErr records err as the sticky configuration error. The first recorded
// error wins.
func (n *Notifier) setErr(err error) {
	n.emu.Lock()
	defer n.emu.Unlock()
	if n.err == nil {
		n.err = err
	}
}

// WatchFile registers a watch for a single file or directory. With no
// events given the watch covers All.
func (n *Notifier) WatchFile(path string, events ...Event) *Notifier {
	if n.Err() != nil {
		return n
	}
	if _, err := n.table.AddWatch(path, joinevents(events)); err != nil {
		n.setErr(err)
	}
	return n
}

// WatchPathRecursively registers watches for path and every subdirectory
// below it. Symlinks are not followed. Watches registered before a failure
// partway through the walk stay registered.
func (n *Notifier) WatchPathRecursively(path string, events ...Event) *Notifier {
	if n.Err() != nil {
		return n
	}
	if _, err := n.table.AddRecursive(path, joinevents(events)); err != nil {
		n.setErr(err)
	}
	return n
}

// WatchMountPoint registers a watch covering the whole mount containing
// path. Only the fanotify backend supports this; on other backends the
// call records ErrPermissionDenied.
func (n *Notifier) WatchMountPoint(path string, events ...Event) *Notifier {
	if n.Err() != nil {
		return n
	}
	abs, err := checkPath(path)
	if err != nil {
		n.setErr(err)
		return n
	}
	ms, ok := n.src.(mountSource)
	if !ok {
		n.setErr(ErrPermissionDenied)
		return n
	}
	mask := joinevents(events)
	h, err := ms.RegisterMount(abs, mask)
	if err != nil {
		n.setErr(err)
		return n
	}
	n.table.insert(h, abs, mask)
	return n
}

// Unwatch releases the watch registered for path. Unwatching a path that is
// not watched is benign and leaves the configuration error untouched.
func (n *Notifier) Unwatch(path string) *Notifier {
	if n.Err() != nil {
		return n
	}
	abs, err := checkPath(path)
	if err != nil {
		n.setErr(err)
		return n
	}
	if err := n.table.RemoveByPath(abs); err != nil && !errors.Is(err, ErrUnknownHandle) {
		n.setErr(err)
	}
	return n
}

// Ignore suppresses every notification for path until Unignore.
func (n *Notifier) Ignore(path string) *Notifier {
	if n.Err() != nil {
		return n
	}
	abs, err := checkPath(path)
	if err != nil {
		n.setErr(err)
		return n
	}
	n.table.Ignore(abs)
	return n
}

// IgnoreOnce suppresses exactly one notification for path; subsequent
// notifications are delivered normally.
func (n *Notifier) IgnoreOnce(path string) *Notifier {
	if n.Err() != nil {
		return n
	}
	abs, err := checkPath(path)
	if err != nil {
		n.setErr(err)
		return n
	}
	n.table.IgnoreOnce(abs)
	return n
}

// Unignore clears both ignore registrations for path, if present.
func (n *Notifier) Unignore(path string) *Notifier {
	if n.Err() != nil {
		return n
	}
	abs, err := checkPath(path)
	if err != nil {
		n.setErr(err)
		return n
	}
	n.table.Unignore(abs)
	return n
}

// OnEvent registers fn for every notification whose kind is contained in
// events. Registrations fire in insertion order when several match.
func (n *Notifier) OnEvent(events Event, fn func(Notification)) *Notifier {
	n.callbacks = append(n.callbacks, callbackEntry{mask: events, fn: fn})
	return n
}

// OnEvents registers one fn for a list of event kinds.
func (n *Notifier) OnEvents(events []Event, fn func(Notification)) *Notifier {
	return n.OnEvent(joinevents(events), fn)
}

// OnUnexpectedEvent registers the catch-all invoked for notifications whose
// kind matched no OnEvent registration. Without it such notifications are
// dropped.
func (n *Notifier) OnUnexpectedEvent(fn func(Notification)) *Notifier {
	n.unexpected = fn
	return n
}

// SetEventTimeout arms an observer that fires once whenever no notification
// has been delivered for d; every delivery re-arms it. The observer receives
// the most recently delivered notification, or the zero Notification when
// nothing was delivered yet.
func (n *Notifier) SetEventTimeout(d time.Duration, fn func(Notification)) *Notifier {
	n.timeoutDur = d
	n.timeoutFn = fn
	return n
}

// OnError registers the observer for errors absorbed by the running loop,
// such as undecodable raw records and kernel queue overflows. Without it
// those errors are traced via NOTIFY_DEBUG only.
func (n *Notifier) OnError(fn func(error)) *Notifier {
	n.onError = fn
	return n
}

// Close stops the loop and releases every kernel resource the notifier
// holds: all remaining watches, then the backend itself. Safe to call more
// than once.
func (n *Notifier) Close() error {
	if n.src == nil || !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.Stop()
	return nonil(n.table.Close(), n.src.Close())
}
