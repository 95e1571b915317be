// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"fmt"
	"os"
)

// Set the NOTIFY_DEBUG environment variable to get extra information about
// raw records and dispatch decisions on stderr.
var debugTag = os.Getenv("NOTIFY_DEBUG") != ""

func dbgprint(v ...interface{}) {
	if debugTag {
		fmt.Fprintln(os.Stderr, append([]interface{}{"[D]"}, v...)...)
	}
}

func dbgprintf(format string, v ...interface{}) {
	if debugTag {
		fmt.Fprintf(os.Stderr, "[D] "+format+"\n", v...)
	}
}
