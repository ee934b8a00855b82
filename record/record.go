// Package record defines the metadata kept alongside each stored buildpack and
// its binary encoding.
//
// An encoded entry is a format byte followed by length-prefixed fields, all
// integers little endian:
//
//	format[1] guid[s] sha1[s] sha256[s] size[8] created[8]
//
// where [s] denotes a two byte length followed by that many bytes, and
// created is the Unix time in nanoseconds.
package record

import (
	"errors"
	"fmt"
	"time"
)

const format uint8 = 1

var (
	// ErrTruncated is returned when decoding runs out of bytes.
	ErrTruncated = errors.New("truncated record")

	// ErrFormat is returned when decoding a record of an unknown format.
	ErrFormat = errors.New("unknown record format")
)

// Entry describes a stored buildpack.
type Entry struct {
	GUID      string    `json:"guid"`
	SHA1      string    `json:"sha1"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode serializes the entry. Strings longer than 65535 bytes are not
// representable; GUIDs and hex digests never come close.
func Encode(e Entry) ([]byte, error) {
	for _, s := range []string{e.GUID, e.SHA1, e.SHA256} {
		if len(s) > 0xffff {
			return nil, fmt.Errorf("field of %d bytes does not fit a record", len(s))
		}
	}
	var w writer
	w.buf = make([]byte, 0, 1+6+len(e.GUID)+len(e.SHA1)+len(e.SHA256)+16)
	w.put8(format)
	w.puts(e.GUID)
	w.puts(e.SHA1)
	w.puts(e.SHA256)
	w.put64(uint64(e.Size))
	w.put64(uint64(e.CreatedAt.UnixNano()))
	return w.buf, nil
}

// Decode is the inverse of Encode. The returned time is in UTC.
func Decode(b []byte) (e Entry, err error) {
	r := reader{buf: b}
	if f := r.get8(); r.err == nil && f != format {
		return e, fmt.Errorf("%d: %w", f, ErrFormat)
	}
	e.GUID = r.gets()
	e.SHA1 = r.gets()
	e.SHA256 = r.gets()
	e.Size = int64(r.get64())
	created := int64(r.get64())
	if r.err != nil {
		return Entry{}, r.err
	}
	if r.off != len(b) {
		return Entry{}, fmt.Errorf("%d trailing bytes after record", len(b)-r.off)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}
