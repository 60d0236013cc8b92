// Package pathenc converts between filesystem paths and the fixed-width
// byte segments the remote store addresses entries with.
package pathenc

import (
	"bytes"
	"errors"
	"strings"
)

// SegmentSize is the width of a single encoded path segment or slot key.
const SegmentSize = 32

var (
	// ErrNameTooLong is returned when a segment does not fit into SegmentSize bytes.
	ErrNameTooLong = errors.New("name exceeds segment width")
	// ErrInvalidPath is returned for empty interior segments or embedded NUL bytes.
	ErrInvalidPath = errors.New("invalid path")
)

// Encode returns the raw bytes of text. Padding to the segment width happens
// at the wire layer.
func Encode(text string) []byte {
	return []byte(text)
}

// Decode converts a (possibly padded) segment back to text, dropping the
// trailing fill bytes.
func Decode(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// EncodePath splits p on the path separator and encodes each segment. The
// root ("/" or "") maps to an empty sequence.
func EncodePath(p string) ([][]byte, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return [][]byte{}, nil
	}

	segs := strings.Split(p, "/")
	res := make([][]byte, 0, len(segs))
	for _, s := range segs {
		seg, err := EncodeKey(s)
		if err != nil {
			return nil, err
		}
		if len(seg) == 0 {
			return nil, ErrInvalidPath
		}
		res = append(res, seg)
	}
	return res, nil
}

// EncodeKey encodes a single segment or slot name. The empty name is valid
// and addresses the default slot.
func EncodeKey(name string) ([]byte, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return nil, ErrInvalidPath
	}
	b := Encode(name)
	if len(b) > SegmentSize {
		return nil, ErrNameTooLong
	}
	return b, nil
}

// Fixed pads b with zero bytes to the segment width. b must not be longer
// than SegmentSize.
func Fixed(b []byte) (res [SegmentSize]byte) {
	copy(res[:], b)
	return
}

// Join appends name to the directory path dir.
func Join(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
