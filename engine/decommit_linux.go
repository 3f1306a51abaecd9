//go:build linux

package engine

import (
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var madviseWarnOnce sync.Once

// decommitBuffer releases the physical pages behind buf with
// madvise(MADV_DONTNEED), which also leaves the range zero-filled on next
// touch. The unaligned edges are zeroed by hand. Returns false when the
// kernel refuses, in which case the caller zero-fills everything.
func decommitBuffer(buf []byte) bool {
	pageSize := uintptr(os.Getpagesize())
	base := uintptr(unsafe.Pointer(&buf[0]))

	start := (base + pageSize - 1) &^ (pageSize - 1)
	end := (base + uintptr(len(buf))) &^ (pageSize - 1)
	if start >= end {
		return false
	}

	headLen := int(start - base)
	alignedLen := int(end - start)

	if err := unix.Madvise(buf[headLen:headLen+alignedLen], unix.MADV_DONTNEED); err != nil {
		madviseWarnOnce.Do(func() {
			Logger().Warn("madvise(MADV_DONTNEED) failed, falling back to zero fill",
				zap.Error(err))
		})
		return false
	}

	for i := 0; i < headLen; i++ {
		buf[i] = 0
	}
	for i := headLen + alignedLen; i < len(buf); i++ {
		buf[i] = 0
	}
	return true
}
