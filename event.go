// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"fmt"
	"strings"
)

// Event is a bitmask of filesystem event kinds. Values combine with the
// bitwise OR operator; a mask m contains a kind k when m&k == k.
//
// The values are portable: they do not correspond to any kernel facility's
// bits. Each backend translates between its native bits and these.
type Event uint32

// Primitive event kinds.
const (
	// Access fires when a file is read.
	Access Event = 1 << iota
	// Modify fires when a file's contents change.
	Modify
	// Attrib fires when metadata changes (permissions, timestamps,
	// ownership, link count).
	Attrib
	// CloseWrite fires when a file opened for writing is closed.
	CloseWrite
	// CloseRead fires when a file not opened for writing is closed.
	CloseRead
	// Open fires when a file is opened.
	Open
	// MovedFrom fires in the watched directory a file was renamed out of.
	MovedFrom
	// MovedTo fires in the watched directory a file was renamed into.
	MovedTo
	// Create fires when a file or directory is created in a watched
	// directory.
	Create
	// Delete fires when a file or directory is deleted from a watched
	// directory.
	Delete
	// DeleteSelf fires when the watched path itself is deleted.
	DeleteSelf
	// MoveSelf fires when the watched path itself is moved.
	MoveSelf
)

// Aggregate masks, fixed unions of the primitive kinds.
const (
	// Close matches both close variants.
	Close = CloseWrite | CloseRead
	// Move matches both directory-relative rename halves.
	Move = MovedFrom | MovedTo
	// All matches every primitive kind.
	All = Access | Modify | Attrib | Close | Open | Move | Create |
		Delete | DeleteSelf | MoveSelf
)

// primitives holds every single-bit kind in declaration order. Dispatch and
// String rely on this ordering being stable.
var primitives = [...]Event{
	Access, Modify, Attrib, CloseWrite, CloseRead, Open,
	MovedFrom, MovedTo, Create, Delete, DeleteSelf, MoveSelf,
}

var estr = map[Event]string{
	Access:     "access",
	Modify:     "modify",
	Attrib:     "attribute_change",
	CloseWrite: "close_write",
	CloseRead:  "close_read",
	Open:       "open",
	MovedFrom:  "moved_from",
	MovedTo:    "moved_to",
	Create:     "create",
	Delete:     "delete",
	DeleteSelf: "delete_self",
	MoveSelf:   "move_self",
	Close:      "close",
	Move:       "move",
	All:        "all",
}

var stre = map[string]Event{}

func init() {
	for e, s := range estr {
		stre[s] = e
	}
}

// Has reports whether every bit of k is set in e.
func (e Event) Has(k Event) bool { return e&k == k }

// String returns the canonical lowercase name of e. Aggregates render under
// their own name; any other multi-bit mask renders as a "|"-joined list of
// its primitive members.
func (e Event) String() string {
	if s, ok := estr[e]; ok {
		return s
	}
	var parts []string
	for _, k := range primitives {
		if e.Has(k) {
			parts = append(parts, estr[k])
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("event(%#x)", uint32(e))
	}
	return strings.Join(parts, "|")
}

// ParseEvent converts a canonical event name back into its mask. Accepts
// the same "|"-joined form that String produces.
func ParseEvent(name string) (Event, error) {
	var e Event
	for _, part := range strings.Split(name, "|") {
		k, ok := stre[strings.TrimSpace(part)]
		if !ok {
			return 0, fmt.Errorf("notify: unknown event name %q", part)
		}
		e |= k
	}
	return e, nil
}

// joinevents folds a possibly-empty event list into a single mask, watching
// for everything when no events were given.
func joinevents(events []Event) (e Event) {
	if len(events) == 0 {
		return All
	}
	for _, event := range events {
		e |= event
	}
	return
}
