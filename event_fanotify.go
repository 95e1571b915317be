// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux
// +build linux

package notify

import "golang.org/x/sys/unix"

// Translation tables between the portable event bits and the fanotify mask.
// Without FID reporting fanotify only speaks the access/modify/open/close
// subset; the remaining portable kinds have no fanotify spelling.
var fanotifyBits = [...]struct {
	portable Event
	sys      uint64
}{
	{Access, unix.FAN_ACCESS},
	{Modify, unix.FAN_MODIFY},
	{CloseWrite, unix.FAN_CLOSE_WRITE},
	{CloseRead, unix.FAN_CLOSE_NOWRITE},
	{Open, unix.FAN_OPEN},
}

func encodeFanotify(e Event) (mask uint64) {
	for _, b := range fanotifyBits {
		if e.Has(b.portable) {
			mask |= b.sys
		}
	}
	return
}

func decodeFanotify(mask uint64) (e Event) {
	for _, b := range fanotifyBits {
		if mask&b.sys == b.sys {
			e |= b.portable
		}
	}
	return
}
