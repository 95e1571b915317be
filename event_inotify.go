// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux
// +build linux

package notify

import "golang.org/x/sys/unix"

// Translation tables between the portable event bits and the inotify mask.
// Both directions are fixed; the dispatch engine never sees IN_* values.
var inotifyBits = [...]struct {
	portable Event
	sys      uint32
}{
	{Access, unix.IN_ACCESS},
	{Modify, unix.IN_MODIFY},
	{Attrib, unix.IN_ATTRIB},
	{CloseWrite, unix.IN_CLOSE_WRITE},
	{CloseRead, unix.IN_CLOSE_NOWRITE},
	{Open, unix.IN_OPEN},
	{MovedFrom, unix.IN_MOVED_FROM},
	{MovedTo, unix.IN_MOVED_TO},
	{Create, unix.IN_CREATE},
	{Delete, unix.IN_DELETE},
	{DeleteSelf, unix.IN_DELETE_SELF},
	{MoveSelf, unix.IN_MOVE_SELF},
}

// encodeInotify builds the inotify mask for a portable event set.
func encodeInotify(e Event) (mask uint32) {
	for _, b := range inotifyBits {
		if e.Has(b.portable) {
			mask |= b.sys
		}
	}
	return
}

// decodeInotify translates an inotify event mask back into portable bits.
// Control bits (IN_ISDIR, IN_IGNORED, IN_Q_OVERFLOW, IN_UNMOUNT) carry no
// portable event and are handled at the record level.
func decodeInotify(mask uint32) (e Event) {
	for _, b := range inotifyBits {
		if mask&b.sys == b.sys {
			e |= b.portable
		}
	}
	return
}
