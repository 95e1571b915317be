// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

// Handle is the opaque identifier the kernel facility hands back when a path
// begins being monitored. For inotify it is the watch descriptor; backends
// without kernel-side descriptors synthesize their own.
type Handle int32

// RawRecord is one kernel-reported change event before it is decoded into a
// typed Notification.
//
// For events reported against a watched directory, Name carries the name of
// the affected child entry relative to the watched path; it is empty for
// events on the watched path itself.
type RawRecord struct {
	Handle Handle
	Mask   uint64 // backend-native event bits
	Name   string
	IsDir  bool

	// Expired marks a record that reports the kernel-side watch is gone
	// (e.g. inotify IN_IGNORED). It carries no event; the watch table
	// entry is dropped without releasing the handle again.
	Expired bool

	// Err is set when the record could not be decoded. Such records carry
	// no event and are skipped after the error has been observed.
	Err error
}

// EventSource is the capability interface a backend transport must satisfy
// for the dispatch engine to run on top of it. Two implementations ship with
// this package, inotify and fanotify; both are selected at construction time.
//
// For the ease of implementation it is guaranteed that paths provided via
// Register have been checked for existence and are absolute and clean.
type EventSource interface {
	// Register requests a kernel watch for the given path and event set.
	// Failures map onto ErrResourceExhausted and ErrPermissionDenied.
	Register(path string, mask Event) (Handle, error)

	// Unregister releases the kernel watch behind h. Releasing a handle
	// that is not registered reports ErrUnknownHandle.
	Unregister(h Handle) error

	// ReadBatch blocks until at least one raw record is available, then
	// returns everything the kernel had queued. A Wake call from another
	// goroutine unblocks it with an empty batch and a nil error.
	ReadBatch() ([]RawRecord, error)

	// DecodeMask translates backend-native event bits into the portable
	// event mask.
	DecodeMask(mask uint64) Event

	// Wake unblocks a pending ReadBatch without requiring filesystem
	// activity. Safe to call at any time, from any goroutine.
	Wake() error

	// Close releases the backend's kernel resources. No records are
	// reported after Close returns.
	Close() error
}

// mountSource is satisfied by backends able to watch a whole mount point
// (fanotify). The builder upgrades its EventSource to this interface when
// WatchMountPoint is used.
type mountSource interface {
	RegisterMount(path string, mask Event) (Handle, error)
}
