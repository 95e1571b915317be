// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"errors"
	"time"
)

// Notification is one decoded filesystem change, consumed by the callbacks
// registered for its event kind. Immutable once constructed.
type Notification struct {
	Event  Event
	Path   string
	Handle Handle
	IsDir  bool
}

// callbackFn consumes one notification. Callbacks run synchronously on the
// dispatch goroutine; they must not call configuration methods on the
// notifier that produced them.
type callbackFn func(Notification)

// callbackEntry is one registration in the callback table. Entries are kept
// in insertion order, which is also invocation order when several entries
// match one event.
type callbackEntry struct {
	mask Event
	fn   callbackFn
}

// RunOnce blocks for the next batch of raw records, decodes each into zero
// or more notifications, applies the ignore filters and dispatches to the
// registered callbacks. A pending Stop is honored only between batches; a
// batch already being dispatched completes first.
//
// RunOnce returns immediately with the recorded configuration error when
// the fluent setup failed.
func (n *Notifier) RunOnce() error {
	if err := n.Err(); err != nil {
		return err
	}
	if n.stopped.Load() {
		return nil
	}
	n.armTimeout()
	batch, err := n.src.ReadBatch()
	if err != nil {
		return err
	}
	for _, rec := range batch {
		n.dispatchRecord(rec)
	}
	return nil
}

// Run repeats RunOnce until Stop is invoked from another goroutine. The
// timeout observer, when configured, stays armed across batches.
func (n *Notifier) Run() error {
	defer n.disarmTimeout()
	for !n.stopped.Load() {
		if err := n.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// Stop requests a running Run or RunOnce to return. It unblocks a currently
// blocked read deterministically, without waiting for filesystem activity,
// and is idempotent and safe to call before, during or after a run.
func (n *Notifier) Stop() {
	if n.stopped.CompareAndSwap(false, true) {
		n.disarmTimeout()
		if n.src == nil {
			return
		}
		if err := n.src.Wake(); err != nil {
			n.observeError(err)
		}
	}
}

func (n *Notifier) dispatchRecord(rec RawRecord) {
	if rec.Err != nil {
		n.observeError(rec.Err)
		return
	}
	if rec.Expired {
		dbgprintf("dispatch: watch %d expired", rec.Handle)
		n.table.forget(rec.Handle)
		return
	}
	event := n.src.DecodeMask(rec.Mask)
	if event == 0 {
		dbgprintf("dispatch: no portable event in mask %#x", rec.Mask)
		return
	}
	path, _, ok := n.table.ResolvePath(rec.Handle, rec.Name)
	if !ok {
		// The watch was removed while the record sat in the kernel
		// queue. Nothing live to report against.
		dbgprintf("dispatch: dropping record for stale handle %d", rec.Handle)
		return
	}
	if event.Has(DeleteSelf) || event.Has(MoveSelf) {
		// A moved watch survives in the kernel, so the handle must be
		// released, not just forgotten. For delete_self the kernel has
		// already retired it and the release reports ErrUnknownHandle.
		defer func() {
			err := n.table.RemoveWatch(rec.Handle)
			if err != nil && !errors.Is(err, ErrUnknownHandle) {
				n.observeError(err)
			}
		}()
	}
	if n.table.ShouldSuppress(path) {
		dbgprintf("dispatch: suppressed %v on %s", event, path)
		return
	}
	for _, kind := range primitives {
		if !event.Has(kind) {
			continue
		}
		n.deliver(Notification{
			Event:  kind,
			Path:   path,
			Handle: rec.Handle,
			IsDir:  rec.IsDir,
		})
	}
}

func (n *Notifier) deliver(note Notification) {
	n.rearmTimeout(note)
	matched := false
	for _, entry := range n.callbacks {
		if entry.mask&note.Event != 0 {
			matched = true
			entry.fn(note)
		}
	}
	if !matched {
		if n.unexpected != nil {
			n.unexpected(note)
		} else {
			dbgprintf("dispatch: dropping unexpected %v on %s", note.Event, note.Path)
		}
	}
}

func (n *Notifier) observeError(err error) {
	if n.onError != nil {
		n.onError(err)
		return
	}
	dbgprintf("dispatch: %v", err)
}

// armTimeout starts the timeout observer if one is configured and not
// currently armed. The observer fires at most once per arming; delivery of
// a notification re-arms it.
func (n *Notifier) armTimeout() {
	if n.timeoutFn == nil {
		return
	}
	n.tmu.Lock()
	defer n.tmu.Unlock()
	if n.timer != nil {
		return
	}
	n.timer = time.AfterFunc(n.timeoutDur, n.fireTimeout)
}

func (n *Notifier) rearmTimeout(note Notification) {
	if n.timeoutFn == nil {
		return
	}
	n.tmu.Lock()
	defer n.tmu.Unlock()
	n.lastNote = note
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.timeoutDur, n.fireTimeout)
}

func (n *Notifier) fireTimeout() {
	n.tmu.Lock()
	n.timer = nil
	note := n.lastNote
	n.tmu.Unlock()
	n.timeoutFn(note)
}

func (n *Notifier) disarmTimeout() {
	if n.timeoutFn == nil {
		return
	}
	n.tmu.Lock()
	defer n.tmu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
