package record

import "fmt"

type writer struct {
	buf []byte
}

func (w *writer) put8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) put16(v uint16) {
	w.buf = append(w.buf, uint8(v), uint8(v>>8))
}

func (w *writer) put64(v uint64) {
	for i := 0; i < 8; i++ {
		w.buf = append(w.buf, uint8(v>>(8*i)))
	}
}

func (w *writer) puts(v string) {
	w.put16(uint16(len(v)))
	w.buf = append(w.buf, v...)
}

// reader keeps the first error; later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, r.off, len(r.buf)-r.off, ErrTruncated)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) get8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) get16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r *reader) get64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (r *reader) gets() string {
	n := r.get16()
	return string(r.take(int(n)))
}
