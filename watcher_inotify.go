// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux
// +build linux

package notify

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyBufferSize fits one read's worth of packed inotify records. Each
// record is SizeofInotifyEvent bytes plus an optional NUL-padded name of at
// most NAME_MAX bytes.
const inotifyBufferSize = 64 << 10

// inotify is the syscall-based EventSource. One inotify fd serves every
// watch; a self-pipe polled alongside it makes ReadBatch interruptible.
type inotify struct {
	fd     int
	wakeR  int
	wakeW  int
	buf    []byte
	closed atomic.Bool
}

// NewInotifyNotifier builds a Notifier over the inotify facility. A failure
// to acquire the inotify fd is recorded as the notifier's sticky error.
func NewInotifyNotifier() *Notifier {
	src, err := newInotify()
	if err != nil {
		return failedNotifier(err)
	}
	return NewNotifier(src)
}

func newInotify() (*inotify, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("inotify_init1", err)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("pipe2", err)
	}
	return &inotify{
		fd:    fd,
		wakeR: p[0],
		wakeW: p[1],
		buf:   make([]byte, inotifyBufferSize),
	}, nil
}

func (i *inotify) Register(path string, mask Event) (Handle, error) {
	wd, err := unix.InotifyAddWatch(i.fd, path, encodeInotify(mask))
	if err != nil {
		return -1, mapRegisterErrno("inotify_add_watch", path, err)
	}
	return Handle(wd), nil
}

func (i *inotify) Unregister(h Handle) error {
	if _, err := unix.InotifyRmWatch(i.fd, uint32(h)); err != nil {
		// The kernel reports EINVAL for watch descriptors it no
		// longer knows, e.g. after IN_IGNORED already retired them.
		if err == unix.EINVAL {
			return fmt.Errorf("notify: handle %d: %w", h, ErrUnknownHandle)
		}
		return os.NewSyscallError("inotify_rm_watch", err)
	}
	return nil
}

func (i *inotify) ReadBatch() ([]RawRecord, error) {
	fds := []unix.PollFd{
		{Fd: int32(i.fd), Events: unix.POLLIN},
		{Fd: int32(i.wakeR), Events: unix.POLLIN},
	}
	for {
		if i.closed.Load() {
			return nil, nil
		}
		n, err := unix.Poll(fds, -1)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			if i.closed.Load() {
				return nil, nil
			}
			return nil, os.NewSyscallError("poll", err)
		case n == 0:
			continue
		}
		if fds[1].Revents != 0 {
			i.drainWake()
			return nil, nil
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		n, err = unix.Read(i.fd, i.buf)
		switch {
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		case err != nil:
			if i.closed.Load() {
				return nil, nil
			}
			return nil, os.NewSyscallError("read", err)
		}
		return parseInotifyBatch(i.buf[:n]), nil
	}
}

// parseInotifyBatch walks one read's worth of packed, variable-length
// inotify records. Truncated trailing data yields a record carrying a
// DecodeError instead of aborting the whole batch.
func parseInotifyBatch(buf []byte) []RawRecord {
	var recs []RawRecord
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < unix.SizeofInotifyEvent {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "short event header",
			}})
			break
		}
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		end := offset + unix.SizeofInotifyEvent + int(raw.Len)
		if end > len(buf) {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "truncated name field",
			}})
			break
		}
		if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "kernel event queue overflowed, events were dropped",
			}})
			offset = end
			continue
		}
		var name string
		if raw.Len > 0 {
			name = strings.TrimRight(string(buf[offset+unix.SizeofInotifyEvent:end]), "\x00")
		}
		recs = append(recs, RawRecord{
			Handle:  Handle(raw.Wd),
			Mask:    uint64(raw.Mask),
			Name:    name,
			IsDir:   raw.Mask&unix.IN_ISDIR != 0,
			Expired: raw.Mask&unix.IN_IGNORED != 0,
		})
		offset = end
	}
	return recs
}

func (i *inotify) DecodeMask(mask uint64) Event {
	return decodeInotify(uint32(mask))
}

func (i *inotify) Wake() error {
	if _, err := unix.Write(i.wakeW, []byte{0}); err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (i *inotify) drainWake() {
	var b [16]byte
	for {
		if _, err := unix.Read(i.wakeR, b[:]); err != nil {
			return
		}
	}
}

func (i *inotify) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Nudge a reader blocked in poll before the fds go away.
	unix.Write(i.wakeW, []byte{0})
	return nonil(
		os.NewSyscallError("close", unix.Close(i.fd)),
		os.NewSyscallError("close", unix.Close(i.wakeR)),
		os.NewSyscallError("close", unix.Close(i.wakeW)),
	)
}

// mapRegisterErrno folds registration errno values onto the package error
// taxonomy so callers can discriminate with errors.Is.
func mapRegisterErrno(op, path string, err error) error {
	switch err {
	case unix.ENOSPC, unix.EMFILE, unix.ENFILE:
		return fmt.Errorf("notify: %s %q: %w", op, path, ErrResourceExhausted)
	case unix.EACCES, unix.EPERM:
		return fmt.Errorf("notify: %s %q: %w", op, path, ErrPermissionDenied)
	}
	return os.NewSyscallError(op, err)
}
