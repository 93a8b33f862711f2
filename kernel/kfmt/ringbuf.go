package kfmt

import "io"

// ringBufferSize defines size of a RingBuffer. It is large enough to hold
// the contents of a standard 80*25 text-mode console and must always be a
// power of 2.
const ringBufferSize = 2048

// RingBuffer is a fixed-size byte queue. When full, writes overwrite the
// oldest unread byte. The kernel uses it for capturing Printf output before
// an output sink is attached and drivers use it for buffering input.
type RingBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Len returns the number of unread bytes.
func (rb *RingBuffer) Len() int {
	return (rb.wIndex - rb.rIndex) & (ringBufferSize - 1)
}

// WriteByte appends b to the buffer.
func (rb *RingBuffer) WriteByte(b byte) error {
	rb.buffer[rb.wIndex] = b
	rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
	if rb.rIndex == rb.wIndex {
		rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
	}

	return nil
}

// Write writes len(p) bytes from p to the RingBuffer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.WriteByte(b)
	}

	return len(p), nil
}

// ReadByte removes and returns the oldest unread byte. It returns io.EOF if
// the buffer is empty.
func (rb *RingBuffer) ReadByte() (byte, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	b := rb.buffer[rb.rIndex]
	rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
	return b, nil
}

// Read reads up to len(p) bytes into p. It returns the number of bytes read (0
// <= n <= len(p)) and io.EOF if the buffer is empty.
func (rb *RingBuffer) Read(p []byte) (n int, err error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Copy the contiguous region that starts at rIndex; a wrapped
	// buffer needs a second call to drain the remainder.
	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = len(rb.buffer)
	}

	n = copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
