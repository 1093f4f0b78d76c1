package kfmt

import "io"

// PrefixWriter wraps Sink and writes Prefix at the start of every line. A nil
// Sink selects the early output buffer.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	// midLine is set once the current line has received its prefix.
	midLine bool
}

// Write sends p to the sink, injecting the prefix at each line start. The
// returned count only includes bytes from p.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, start int

	for start < len(p) {
		if !w.midLine {
			if _, err := w.sinkWrite(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := start
		for end < len(p) && p[end] != '\n' {
			end++
		}
		if end < len(p) {
			end++
			w.midLine = false
		}

		n, err := w.sinkWrite(p[start:end])
		written += n
		if err != nil {
			return written, err
		}
		start = end
	}

	return written, nil
}

func (w *PrefixWriter) sinkWrite(p []byte) (int, error) {
	if w.Sink == nil {
		return earlyBuf.Write(p)
	}
	return w.Sink.Write(p)
}
