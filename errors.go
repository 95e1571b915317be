// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is reported when a path handed to a watch or ignore
	// method does not exist. It is always detected before any kernel
	// registration is attempted.
	ErrInvalidPath = errors.New("path does not exist")

	// ErrUnknownHandle is reported when a watch handle is stale or was
	// already removed. It is benign: the watch table is left unchanged.
	ErrUnknownHandle = errors.New("unknown watch handle")

	// ErrResourceExhausted is reported when the kernel refuses a new watch
	// for lack of resources (watch or fd limits). Existing watches are
	// unaffected.
	ErrResourceExhausted = errors.New("watch resources exhausted")

	// ErrPermissionDenied is reported when the kernel refuses a watch
	// registration for lack of privileges.
	ErrPermissionDenied = errors.New("permission denied")
)

// DecodeError describes a single raw kernel record that could not be turned
// into a notification. Decode errors never stop the dispatch loop; they are
// delivered to the error observer and the offending record is skipped.
type DecodeError struct {
	Offset int    // byte offset of the record within its batch buffer
	Reason string // what was wrong with the record
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("notify: undecodable record at offset %d: %s", e.Offset, e.Reason)
}
