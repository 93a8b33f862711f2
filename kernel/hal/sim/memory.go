package sim

const chunkSize = 4096

// sparseMemory backs physical memory with 4 KiB chunks that are allocated on
// first non-zero write. Unallocated chunks read as zero.
type sparseMemory struct {
	size   uint64
	chunks map[uint64]*[chunkSize]byte
}

func newSparseMemory(size uint64) sparseMemory {
	return sparseMemory{size: size, chunks: make(map[uint64]*[chunkSize]byte)}
}

func (mem *sparseMemory) inRange(off int64, length int) bool {
	return off >= 0 && uint64(off)+uint64(length) <= mem.size
}

func (mem *sparseMemory) read(p []byte, addr uint64) {
	for len(p) > 0 {
		index, offset := addr/chunkSize, addr%chunkSize
		n := uint64(len(p))
		if n > chunkSize-offset {
			n = chunkSize - offset
		}

		if chunk := mem.chunks[index]; chunk != nil {
			copy(p[:n], chunk[offset:])
		} else {
			for i := range p[:n] {
				p[i] = 0
			}
		}

		p = p[n:]
		addr += n
	}
}

func (mem *sparseMemory) write(p []byte, addr uint64) {
	for len(p) > 0 {
		index, offset := addr/chunkSize, addr%chunkSize
		n := uint64(len(p))
		if n > chunkSize-offset {
			n = chunkSize - offset
		}

		chunk := mem.chunks[index]
		if chunk == nil && !allZero(p[:n]) {
			chunk = new([chunkSize]byte)
			mem.chunks[index] = chunk
		}
		if chunk != nil {
			copy(chunk[offset:], p[:n])
		}

		p = p[n:]
		addr += n
	}
}

// allocatedChunks returns the number of chunks that hold data.
func (mem *sparseMemory) allocatedChunks() int {
	return len(mem.chunks)
}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
