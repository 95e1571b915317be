// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux
// +build linux

package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const fanotifyBufferSize = 8 << 10

// x/sys/unix exports the metadata struct but no Sizeof constant for it.
const sizeofFanotifyEventMetadata = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))

// fanotifyMark records one fanotify_mark registration. The kernel keeps no
// per-mark identifier, so the backend synthesizes handles and attributes
// incoming events back to marks by path.
type fanotifyMark struct {
	path  string
	mask  uint64
	isDir bool
	mount bool
}

// fanotify is the privileged-access EventSource. It requires CAP_SYS_ADMIN;
// unprivileged processes get ErrPermissionDenied at construction time.
type fanotify struct {
	fd     int
	wakeR  int
	wakeW  int
	buf    []byte
	closed atomic.Bool

	mu    sync.Mutex
	next  Handle
	marks map[Handle]*fanotifyMark
}

// NewFanotifyNotifier builds a Notifier over the fanotify facility. A
// failure to acquire the fanotify fd (typically for lack of CAP_SYS_ADMIN)
// is recorded as the notifier's sticky error.
func NewFanotifyNotifier() *Notifier {
	src, err := newFanotify()
	if err != nil {
		return failedNotifier(err)
	}
	return NewNotifier(src)
}

func newFanotify() (*fanotify, error) {
	fd, err := unix.FanotifyInit(
		unix.FAN_CLOEXEC|unix.FAN_CLASS_NOTIF|unix.FAN_NONBLOCK,
		unix.O_RDONLY|unix.O_LARGEFILE|unix.O_CLOEXEC,
	)
	if err != nil {
		if err == unix.EPERM {
			return nil, fmt.Errorf("notify: fanotify_init: %w", ErrPermissionDenied)
		}
		return nil, os.NewSyscallError("fanotify_init", err)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("pipe2", err)
	}
	return &fanotify{
		fd:    fd,
		wakeR: p[0],
		wakeW: p[1],
		buf:   make([]byte, fanotifyBufferSize),
		marks: make(map[Handle]*fanotifyMark),
	}, nil
}

func (f *fanotify) Register(path string, mask Event) (Handle, error) {
	return f.mark(path, mask, 0)
}

// RegisterMount marks the whole mount containing path. Events anywhere on
// the mount are attributed back to this mark.
func (f *fanotify) RegisterMount(path string, mask Event) (Handle, error) {
	return f.mark(path, mask, unix.FAN_MARK_MOUNT)
}

func (f *fanotify) mark(path string, mask Event, extra uint) (Handle, error) {
	sys := encodeFanotify(mask)
	if sys == 0 {
		return -1, fmt.Errorf("notify: %v has no fanotify representation", mask)
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return -1, fmt.Errorf("notify: %q: %w", path, ErrInvalidPath)
	}
	if fi.IsDir() {
		sys |= unix.FAN_ONDIR | unix.FAN_EVENT_ON_CHILD
	}
	if err := unix.FanotifyMark(f.fd, unix.FAN_MARK_ADD|extra, sys, unix.AT_FDCWD, path); err != nil {
		return -1, mapRegisterErrno("fanotify_mark", path, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := f.next
	f.marks[h] = &fanotifyMark{
		path:  path,
		mask:  sys,
		isDir: fi.IsDir(),
		mount: extra&unix.FAN_MARK_MOUNT != 0,
	}
	return h, nil
}

func (f *fanotify) Unregister(h Handle) error {
	f.mu.Lock()
	m, ok := f.marks[h]
	if ok {
		delete(f.marks, h)
	}
	shared := false
	if ok {
		for _, other := range f.marks {
			if other.path == m.path && other.mount == m.mount {
				shared = true
				break
			}
		}
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("notify: handle %d: %w", h, ErrUnknownHandle)
	}
	if shared {
		// The kernel keeps one mark per object with the union of all
		// requested bits. Another handle still covers this path, so
		// removing the bits now would break that survivor.
		return nil
	}
	var extra uint
	if m.mount {
		extra = unix.FAN_MARK_MOUNT
	}
	if err := unix.FanotifyMark(f.fd, unix.FAN_MARK_REMOVE|extra, m.mask, unix.AT_FDCWD, m.path); err != nil {
		// ENOENT: the kernel already dropped the mark with the inode.
		if err == unix.ENOENT {
			return nil
		}
		return os.NewSyscallError("fanotify_mark", err)
	}
	return nil
}

func (f *fanotify) ReadBatch() ([]RawRecord, error) {
	fds := []unix.PollFd{
		{Fd: int32(f.fd), Events: unix.POLLIN},
		{Fd: int32(f.wakeR), Events: unix.POLLIN},
	}
	for {
		if f.closed.Load() {
			return nil, nil
		}
		n, err := unix.Poll(fds, -1)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			if f.closed.Load() {
				return nil, nil
			}
			return nil, os.NewSyscallError("poll", err)
		case n == 0:
			continue
		}
		if fds[1].Revents != 0 {
			f.drainWake()
			return nil, nil
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		n, err = unix.Read(f.fd, f.buf)
		switch {
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		case err != nil:
			if f.closed.Load() {
				return nil, nil
			}
			return nil, os.NewSyscallError("read", err)
		}
		return f.parseBatch(f.buf[:n]), nil
	}
}

// parseBatch walks one read's worth of fanotify_event_metadata records.
// The per-event fd is closed on every path through a record, including
// decode failures.
func (f *fanotify) parseBatch(buf []byte) []RawRecord {
	var recs []RawRecord
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < sizeofFanotifyEventMetadata {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "short metadata header",
			}})
			break
		}
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[offset]))
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "metadata version mismatch",
			}})
			break
		}
		end := offset + int(meta.Event_len)
		if int(meta.Event_len) < sizeofFanotifyEventMetadata || end > len(buf) {
			recs = append(recs, RawRecord{Err: &DecodeError{
				Offset: offset,
				Reason: "truncated event record",
			}})
			break
		}
		if rec, ok := f.decodeMeta(offset, meta); ok {
			recs = append(recs, rec)
		}
		offset = end
	}
	return recs
}

func (f *fanotify) decodeMeta(offset int, meta *unix.FanotifyEventMetadata) (RawRecord, bool) {
	if meta.Fd < 0 {
		// FAN_NOFD: the kernel event queue overflowed.
		return RawRecord{Err: &DecodeError{
			Offset: offset,
			Reason: "kernel event queue overflowed, events were dropped",
		}}, true
	}
	defer unix.Close(int(meta.Fd))
	path, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(int(meta.Fd)))
	if err != nil {
		return RawRecord{Err: &DecodeError{
			Offset: offset,
			Reason: "cannot resolve event fd to a path",
		}}, true
	}
	h, name, ok := f.attribute(path)
	if !ok {
		// Event for a path whose mark was removed concurrently.
		dbgprintf("fanotify: no mark owns %q", path)
		return RawRecord{}, false
	}
	return RawRecord{
		Handle: h,
		Mask:   meta.Mask,
		Name:   name,
	}, true
}

// attribute finds the mark owning an event path: the exact path, then the
// containing directory for directory marks, then the longest mount-mark
// prefix. The returned name is relative to the mark's path.
func (f *fanotify) attribute(path string) (Handle, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		bestH   Handle
		bestLen = -1
	)
	for h, m := range f.marks {
		switch {
		case m.path == path:
			return h, "", true
		case m.mount || m.isDir:
			if rel, err := filepath.Rel(m.path, path); err == nil && filepath.IsLocal(rel) {
				if !m.mount && filepath.Dir(path) != m.path {
					// Plain directory marks only see direct children.
					continue
				}
				if len(m.path) > bestLen {
					bestH, bestLen = h, len(m.path)
				}
			}
		}
	}
	if bestLen < 0 {
		return 0, "", false
	}
	rel, _ := filepath.Rel(f.marks[bestH].path, path)
	return bestH, rel, true
}

func (f *fanotify) DecodeMask(mask uint64) Event {
	return decodeFanotify(mask)
}

func (f *fanotify) Wake() error {
	if _, err := unix.Write(f.wakeW, []byte{0}); err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (f *fanotify) drainWake() {
	var b [16]byte
	for {
		if _, err := unix.Read(f.wakeR, b[:]); err != nil {
			return
		}
	}
}

func (f *fanotify) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Write(f.wakeW, []byte{0})
	return nonil(
		os.NewSyscallError("close", unix.Close(f.fd)),
		os.NewSyscallError("close", unix.Close(f.wakeR)),
		os.NewSyscallError("close", unix.Close(f.wakeW)),
	)
}
