package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var (
	// ErrUserAccess is returned when user memory helpers are passed an
	// address that is not mapped or not accessible from user mode.
	ErrUserAccess = &kernel.Error{Module: "vmm", Message: "virtual address is not accessible from user mode"}

	// ErrStringTooLong is returned by ReadString when no NUL terminator is
	// found within the requested length.
	ErrStringTooLong = &kernel.Error{Module: "vmm", Message: "string exceeds maximum length"}

	errUserMemoryIO = &kernel.Error{Module: "vmm", Message: "user memory access failed"}
)

// addressSpaceEnd is the first address past the 32-bit virtual address
// space.
const addressSpaceEnd = uint64(1) << 32

// CopyIn copies len(dst) bytes starting at the user virtual address virtAddr
// in as into dst.
func (p *Pool) CopyIn(as AddressSpace, virtAddr uintptr, dst []byte) *kernel.Error {
	return p.copyUser(as, virtAddr, dst, false)
}

// CopyOut copies src to the user virtual address virtAddr in as.
func (p *Pool) CopyOut(as AddressSpace, virtAddr uintptr, src []byte) *kernel.Error {
	return p.copyUser(as, virtAddr, src, true)
}

// ReadString reads a NUL-terminated string of at most maxLen bytes (not
// counting the terminator) from the user virtual address virtAddr in as.
func (p *Pool) ReadString(as AddressSpace, virtAddr uintptr, maxLen int) (string, *kernel.Error) {
	var (
		buf   = make([]byte, 0, 64)
		chunk [64]byte
	)

	for len(buf) <= maxLen {
		n := uintptr(len(chunk))
		if toPageEnd := mm.PageSize - mm.PageOffset(virtAddr); toPageEnd < n {
			n = toPageEnd
		}
		if remaining := uintptr(maxLen + 1 - len(buf)); remaining < n {
			n = remaining
		}

		if err := p.CopyIn(as, virtAddr, chunk[:n]); err != nil {
			return "", err
		}

		for i := uintptr(0); i < n; i++ {
			if chunk[i] == 0 {
				return string(append(buf, chunk[:i]...)), nil
			}
		}

		buf = append(buf, chunk[:n]...)
		virtAddr += n
	}

	return "", ErrStringTooLong
}

// copyUser transfers data between buf and user memory one page at a time.
func (p *Pool) copyUser(as AddressSpace, virtAddr uintptr, buf []byte, toUser bool) *kernel.Error {
	if uint64(virtAddr)+uint64(len(buf)) > addressSpaceEnd {
		return ErrUserAccess
	}

	for len(buf) > 0 {
		physAddr, user, err := p.Translate(as, virtAddr)
		if err != nil || !user {
			return ErrUserAccess
		}

		n := mm.PageSize - mm.PageOffset(virtAddr)
		if uintptr(len(buf)) < n {
			n = uintptr(len(buf))
		}

		var ioErr error
		if toUser {
			_, ioErr = p.mem.WriteAt(buf[:n], int64(physAddr))
		} else {
			_, ioErr = p.mem.ReadAt(buf[:n], int64(physAddr))
		}
		if ioErr != nil {
			return errUserMemoryIO
		}

		buf = buf[n:]
		virtAddr += n
	}

	return nil
}
