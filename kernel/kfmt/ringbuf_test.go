package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf      bytes.Buffer
		expStr   = "the big brown fox jumped over the lazy dog"
		rb       RingBuffer
		readBuf  [16]byte
		readSize int
	)

	t.Run("read/write", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		rb.Write([]byte(expStr))

		if exp, got := len(expStr), rb.Len(); got != exp {
			t.Fatalf("expected Len() to return %d; got %d", exp, got)
		}

		buf.Reset()
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("write moves read pointer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-1, 0
		rb.Write([]byte{'!'})

		if exp := 1; rb.rIndex != exp {
			t.Fatalf("expected write to push rIndex to %d; got %d", exp, rb.rIndex)
		}
	})

	t.Run("wv > rv", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-1, ringBufferSize-6
		copy(rb.buffer[rb.rIndex:], "01234")
		rb.WriteByte('5')
		rb.WriteByte('6')

		buf.Reset()
		for {
			n, err := rb.Read(readBuf[:])
			if err == io.EOF {
				break
			}
			buf.Write(readBuf[:n])
			readSize += n
		}

		if exp, got := "0123456", buf.String(); got != exp {
			t.Fatalf("expected to read %q; got %q", exp, got)
		}
	})

	t.Run("ReadByte", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		rb.WriteByte('a')

		b, err := rb.ReadByte()
		if err != nil || b != 'a' {
			t.Fatalf("expected to read 'a'; got %q, err: %v", b, err)
		}

		if _, err = rb.ReadByte(); err != io.EOF {
			t.Fatalf("expected io.EOF when reading from an empty buffer; got %v", err)
		}
	})
}
