package mm

import "io"

// PhysicalMemory provides byte-level access to physical memory. The offset
// passed to ReadAt and WriteAt is a physical address.
type PhysicalMemory interface {
	io.ReaderAt
	io.WriterAt
}

// zeroBlock is the source buffer used by Memset when clearing memory.
var zeroBlock [4096]byte

// Memset sets size bytes starting at physAddr to value.
func Memset(mem PhysicalMemory, physAddr uintptr, value byte, size uintptr) error {
	if size == 0 {
		return nil
	}

	block := zeroBlock[:]
	if value != 0 {
		block = make([]byte, len(zeroBlock))
		block[0] = value
		for index := 1; index < len(block); index *= 2 {
			copy(block[index:], block[:index])
		}
	}

	for size > 0 {
		chunk := uintptr(len(block))
		if size < chunk {
			chunk = size
		}

		if _, err := mem.WriteAt(block[:chunk], int64(physAddr)); err != nil {
			return err
		}
		physAddr += chunk
		size -= chunk
	}

	return nil
}
