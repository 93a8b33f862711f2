// Package pmm implements the physical frame allocator.
package pmm

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
	"math/bits"
)

var (
	// ErrOutOfMemory is returned when no free frame is left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrFrameNotAllocated is returned when freeing a frame that is
	// reserved, out of range or already free. The allocator state is left
	// unchanged.
	ErrFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "frame is not allocated"}

	errNoFrames = &kernel.Error{Module: "pmm", Message: "frame count must be greater than the reserved frame count"}
)

// ReservedFrame is permanently owned by the kernel: it backs the identity
// mapped boot region and the high-half kernel mapping.
const ReservedFrame = mm.Frame(0)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap. A set bit means that the frame is owned by
// some mapping.
type BitmapAllocator struct {
	lock *sync.IRQSpinlock

	// totalFrames is the number of frames tracked by the allocator.
	totalFrames uint32

	// freeCount tracks the available frames. The allocator uses it to
	// reject requests without scanning the bitmap.
	freeCount uint32

	// freeBitmap tracks used/free frames; bit (i % 64) of word (i / 64)
	// corresponds to frame i.
	freeBitmap []uint64
}

// NewBitmapAllocator creates an allocator for frameCount frames. Frame 0 is
// marked as allocated and is never handed out.
func NewBitmapAllocator(lock *sync.IRQSpinlock, frameCount uint32) (*BitmapAllocator, *kernel.Error) {
	if frameCount <= 1 {
		return nil, errNoFrames
	}

	alloc := &BitmapAllocator{
		lock:        lock,
		totalFrames: frameCount,
		freeCount:   frameCount,
		freeBitmap:  make([]uint64, (frameCount+63)>>6),
	}
	alloc.markFrame(ReservedFrame, true)

	kfmt.Printf("[pmm] tracking %d frames (%dMb), free: %d\n",
		frameCount, uint64(mm.Size(frameCount)*mm.Size(mm.PageSize)/mm.Mb), alloc.freeCount)
	return alloc, nil
}

// markFrame updates the bitmap entry for frame and keeps freeCount in sync
// with the number of set bits.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, owned bool) {
	block, mask := frame>>6, uint64(1)<<(frame&63)
	switch {
	case owned && alloc.freeBitmap[block]&mask == 0:
		alloc.freeBitmap[block] |= mask
		alloc.freeCount--
	case !owned && alloc.freeBitmap[block]&mask != 0:
		alloc.freeBitmap[block] &^= mask
		alloc.freeCount++
	}
}

// isOwned returns true if the bitmap entry for frame is set.
func (alloc *BitmapAllocator) isOwned(frame mm.Frame) bool {
	return alloc.freeBitmap[frame>>6]&(uint64(1)<<(frame&63)) != 0
}

// AllocFrame reserves the first free frame found by a linear scan that starts
// at preferred and wraps around the end of memory. Hints that are out of
// range or point to the reserved frame start the scan at frame 1.
func (alloc *BitmapAllocator) AllocFrame(preferred mm.Frame) (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.freeCount == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	if preferred == ReservedFrame || uint32(preferred) >= alloc.totalFrames {
		preferred = ReservedFrame + 1
	}

	for scanned, frame := uint32(0), preferred; scanned < alloc.totalFrames; scanned, frame = scanned+1, frame+1 {
		if uint32(frame) >= alloc.totalFrames {
			frame = ReservedFrame + 1
		}

		// Skip fully allocated bitmap words.
		if frame&63 == 0 && alloc.freeBitmap[frame>>6] == ^uint64(0) {
			scanned += 63
			frame += 63
			continue
		}

		if !alloc.isOwned(frame) {
			alloc.markFrame(frame, true)
			return frame, nil
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame. Freeing a
// frame that is already free, reserved or out of range returns
// ErrFrameNotAllocated and has no other effect.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if frame == ReservedFrame || uint32(frame) >= alloc.totalFrames || !alloc.isOwned(frame) {
		return ErrFrameNotAllocated
	}

	alloc.markFrame(frame, false)
	return nil
}

// FreeCount returns the number of free frames.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return alloc.freeCount
}

// TotalFrames returns the number of frames tracked by the allocator,
// including the reserved frame.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalFrames
}

// CanSatisfy returns true if count frames can be allocated right now.
func (alloc *BitmapAllocator) CanSatisfy(count uint32) bool {
	return alloc.FreeCount() >= count
}

// OwnedCount returns the number of set bits in the bitmap.
func (alloc *BitmapAllocator) OwnedCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	var owned int
	for _, block := range alloc.freeBitmap {
		owned += bits.OnesCount64(block)
	}

	return uint32(owned)
}
