// Package shmscheme implements the shm scheme's core: named, refcounted,
// page-aligned shared-memory entries. Its state is shallow compared to
// chanscheme's — no listeners, no readiness, no deferral — so it has no
// would-block results at all: every operation here completes immediately.
package shmscheme

import (
	"unicode/utf8"
	"unsafe"

	"github.com/redox-os/ipcd/scheme"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

// entry is a named shared-memory region. Multiple handles may reference the
// same entry by path; refCount tracks how many.
type entry struct {
	path     string
	refCount int
	buf      []byte // nil until the first mmap-prep call
	addr     uintptr
}

// handle is a per-open reference into the entry table.
type handle struct {
	path string
}

// Core owns the named-entry table and the handle table. Like chanscheme.Core
// it is driven from a single goroutine and needs no locking.
type Core struct {
	entries map[string]*entry
	handles map[uint64]*handle
	nextID  uint64

	// mmap/munmap are the kernel's private-mapping primitives. Indirected
	// for testability: tests substitute an in-process fake so
	// they don't need real page-aligned mappings.
	mmap   func(size int) ([]byte, uintptr, error)
	munmap func(buf []byte) error
}

// NewCore builds an empty shm core backed by real anonymous mmap/munmap.
func NewCore() *Core {
	return &Core{
		entries: make(map[string]*entry),
		handles: make(map[uint64]*handle),
		mmap:    mmapAnon,
		munmap:  munmapAnon,
	}
}

func mmapAnon(size int) ([]byte, uintptr, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, 0, err
	}

	return buf, uintptr(unsafe.Pointer(&buf[0])), nil
}

func munmapAnon(buf []byte) error {
	return unix.Munmap(buf)
}

func (c *Core) allocID() uint64 {
	c.nextID++
	return c.nextID
}

// Open implements shm open(path): creates or reuses the named entry and
// increments its refcount.
func (c *Core) Open(path string) (uint64, error) {
	if !utf8.ValidString(path) {
		return 0, scheme.NewError(scheme.ErrPermission, "path is not valid UTF-8")
	}

	e, ok := c.entries[path]
	if !ok {
		e = &entry{path: path}
		c.entries[path] = e
	}

	e.refCount++

	id := c.allocID()
	c.handles[id] = &handle{path: path}
	return id, nil
}

// Close implements shm close(id): decrements the entry's refcount and
// removes it (unmapping its buffer) at zero.
func (c *Core) Close(id uint64) error {
	h, ok := c.handles[id]
	if !ok {
		return scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	delete(c.handles, id)

	e, ok := c.entries[h.path]
	if !ok {
		return nil
	}

	e.refCount--
	if e.refCount <= 0 {
		if e.buf != nil {
			_ = c.munmap(e.buf)
		}

		delete(c.entries, h.path)
	}

	return nil
}

// Fpath implements shm fpath(id, buf): writes "shm:" + entry path,
// truncated to fit, returning bytes written.
func (c *Core) Fpath(id uint64, buf []byte) (int, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	n := copy(buf, "shm:"+h.path)
	return n, nil
}

// Fsync implements fsync(id): always succeeds if the handle exists.
func (c *Core) Fsync(id uint64) error {
	if _, ok := c.handles[id]; !ok {
		return scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	return nil
}

// MmapPrep implements mmap-prep(id, offset, size, flags): lazily allocates
// the buffer (rounded up to pages) on first call, or
// verifies offset+size against an already-allocated buffer on later calls,
// returning the absolute base address plus offset.
func (c *Core) MmapPrep(id uint64, offset, size uint64, flags uint32) (uintptr, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	e, ok := c.entries[h.path]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "entry no longer exists")
	}

	if e.buf == nil {
		rounded := roundUpPage(int(size))
		buf, addr, err := c.mmap(rounded)
		if err != nil {
			return 0, scheme.Wrap(scheme.ErrOutOfRange, "mmap failed", err)
		}

		e.buf = buf
		e.addr = addr
	}

	if offset+size > uint64(len(e.buf)) {
		return 0, scheme.NewError(scheme.ErrOutOfRange, "offset+size exceeds buffer length")
	}

	return e.addr + uintptr(offset), nil
}

func roundUpPage(n int) int {
	if n <= 0 {
		return pageSize
	}

	return ((n + pageSize - 1) / pageSize) * pageSize
}

// Snapshot is a read-only view for the diagnostics HTTP surface and stats
// ticker.
type Snapshot struct {
	Entries     int
	TotalBytes  int
	MaxRefCount int
}

// Snapshot produces a Snapshot of current core state.
func (c *Core) Snapshot() Snapshot {
	var s Snapshot
	s.Entries = len(c.entries)

	for _, e := range c.entries {
		s.TotalBytes += len(e.buf)
		if e.refCount > s.MaxRefCount {
			s.MaxRefCount = e.refCount
		}
	}

	return s
}
