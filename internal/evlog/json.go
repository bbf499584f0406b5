package evlog

import "io"

// jsonWriter builds one JSON line at a time into a fixed buffer,
// adapted from the teacher's telemetry.jsonWriter: no allocations on the
// steady-state path, truncate rather than grow on overflow.
type jsonWriter struct {
	buf [256]byte
	pos int
}

func (w *jsonWriter) reset() { w.pos = 0 }

func (w *jsonWriter) writeRaw(s string) {
	n := copy(w.buf[w.pos:], s)
	w.pos += n
}

func (w *jsonWriter) writeByte(b byte) {
	if w.pos < len(w.buf) {
		w.buf[w.pos] = b
		w.pos++
	}
}

func (w *jsonWriter) writeString(s string) {
	w.writeByte('"')
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch b {
		case '"':
			w.writeRaw(`\"`)
		case '\\':
			w.writeRaw(`\\`)
		case '\n':
			w.writeRaw(`\n`)
		case '\r':
			w.writeRaw(`\r`)
		case '\t':
			w.writeRaw(`\t`)
		default:
			if b >= 32 && b < 127 {
				w.writeByte(b)
			}
		}
	}
	w.writeByte('"')
}

func (w *jsonWriter) writeUint64(n uint64) {
	if n == 0 {
		w.writeByte('0')
		return
	}
	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	w.writeRaw(string(tmp[i:]))
}

func (w *jsonWriter) writeInt64(n int64) {
	if n < 0 {
		w.writeByte('-')
		n = -n
	}
	w.writeUint64(uint64(n))
}

// encode renders e as a single JSON object with no trailing newline.
func (w *jsonWriter) encode(e Event) {
	w.reset()
	w.writeRaw(`{"ts":`)
	w.writeInt64(e.Timestamp)
	w.writeRaw(`,"level":`)
	w.writeString(e.Severity.String())
	w.writeRaw(`,"msg":`)
	w.writeString(e.Message())
	if e.HasChunk {
		w.writeRaw(`,"chunk":`)
		w.writeUint64(uint64(e.Chunk))
	}
	if e.HasErrorCode {
		w.writeRaw(`,"error_code":`)
		w.writeUint64(uint64(e.ErrorCode))
	}
	w.writeByte('}')
}

// Flush drains every queued event and writes it to w as
// newline-delimited JSON, one object per line. It stops at the first
// write error, leaving any events not yet written already drained (and
// therefore lost) — matching the teacher's flush-then-forget semantics.
func (l *Log) Flush(w io.Writer) error {
	events := l.Drain()
	var jw jsonWriter
	for _, e := range events {
		jw.encode(e)
		if _, err := w.Write(jw.buf[:jw.pos]); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}
