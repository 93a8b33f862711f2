package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, output goes to the
	// early print buffer like Printf output before a sink is attached.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set while the last write did not end with a newline.
	midLine bool
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The injected prefix is not included in
// the number of written bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart int

	for lineStart < len(p) {
		if !w.midLine {
			if _, err := w.sink().Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineEnd := len(p)
		for i := lineStart; i < len(p); i++ {
			if p[i] == '\n' {
				lineEnd = i + 1
				w.midLine = false
				break
			}
		}

		n, err := w.sink().Write(p[lineStart:lineEnd])
		written += n
		if err != nil {
			return written, err
		}
		lineStart = lineEnd
	}

	return written, nil
}

func (w *PrefixWriter) sink() io.Writer {
	if w.Sink == nil {
		return &earlyPrintBuffer
	}
	return w.Sink
}
