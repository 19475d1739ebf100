// Package klv reads the Key-Length-Value units that MXF containers
// are built from. It only ever materialises the 16 byte key and the
// BER length field of a unit, the value bytes are skipped with a seek
// and are fetched separately when a caller actually wants them.
package klv

import (
	"fmt"
	"io"
)

const (
	// KeySize is the byte length of an MXF universal label.
	KeySize = 16
	// maxBERLength is the most length-of-length bytes a BER long form
	// field may carry in an MXF file.
	maxBERLength = 8
)

// KLV is the header of a single Key-Length-Value unit.
// The value itself is not stored here.
/*
| Key | BER |  [Value]  |
Offset    ValueOffset
            |- Length ->|
|---- TotalLength ----->|
*/
type KLV struct {
	Key    []byte
	Length []byte // the raw BER bytes
	// LengthValue is the decoded value length in bytes
	LengthValue int64
	// Offset is the byte position of the key in the stream
	Offset int64
}

// ValueOffset returns the byte position of the first value byte.
func (k *KLV) ValueOffset() int64 {
	return k.Offset + int64(len(k.Key)) + int64(len(k.Length))
}

// TotalLength returns the complete byte count of the unit,
// key and length fields included.
func (k *KLV) TotalLength() int64 {
	return int64(len(k.Key)) + int64(len(k.Length)) + k.LengthValue
}

// CheckBounds returns a StructuralError when the value runs past the
// end of a stream of the given size.
func (k *KLV) CheckBounds(size int64) error {
	if end := k.ValueOffset() + k.LengthValue; end > size {
		return &StructuralError{Offset: k.Offset,
			Msg: fmt.Sprintf("klv value ends at byte %v, beyond the stream end at byte %v", end, size)}
	}
	return nil
}

// StructuralError reports a malformed or truncated piece of container
// structure. These errors are not recoverable, the stream position they
// carry is for diagnosing the file.
type StructuralError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("structural error at byte %v: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("structural error at byte %v: %s", e.Offset, e.Msg)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// BerDecode decodes a BER length field, returning the length and the
// count of bytes the field occupied. The short form carries the length
// in the low seven bits of the first byte, the long form uses those
// bits as a count of big endian length bytes that follow.
func BerDecode(data []byte) (int64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("no BER length bytes")
	}

	first := data[0]
	if first&0x80 == 0 {
		// definite short form
		return int64(first), 1, nil
	}

	count := int(first & 0x7f)
	if count == 0 {
		return 0, 0, fmt.Errorf("indefinite BER length is not valid in MXF")
	}
	if count > maxBERLength {
		return 0, 0, fmt.Errorf("BER length of length %v exceeds the %v byte maximum", count, maxBERLength)
	}
	if len(data) < 1+count {
		return 0, 0, fmt.Errorf("BER length field truncated, expected %v more bytes got %v", count, len(data)-1)
	}

	var length uint64
	for _, b := range data[1 : 1+count] {
		length = length<<8 | uint64(b)
	}
	if length > uint64(1)<<62 {
		return 0, 0, fmt.Errorf("BER length %v is implausibly large", length)
	}

	return int64(length), 1 + count, nil
}

// Read reads the KLV unit header at the current stream position,
// leaving the stream positioned at the first value byte.
//
// A clean end of stream before any key bytes returns io.EOF, a short
// key or length read returns a StructuralError.
func Read(r io.ReadSeeker) (*KLV, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	key := make([]byte, KeySize)
	n, err := io.ReadFull(r, key)
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &StructuralError{Offset: offset,
			Msg: fmt.Sprintf("truncated key, read %v of %v bytes", n, KeySize), Err: err}
	}

	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, &StructuralError{Offset: offset, Msg: "missing BER length", Err: err}
	}

	raw := []byte{first[0]}
	if first[0]&0x80 != 0 {
		count := int(first[0] & 0x7f)
		if count == 0 || count > maxBERLength {
			return nil, &StructuralError{Offset: offset,
				Msg: fmt.Sprintf("invalid BER length of length %v", count)}
		}
		rest := make([]byte, count)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, &StructuralError{Offset: offset, Msg: "truncated BER length", Err: err}
		}
		raw = append(raw, rest...)
	}

	length, _, err := BerDecode(raw)
	if err != nil {
		return nil, &StructuralError{Offset: offset, Msg: "bad BER length", Err: err}
	}

	return &KLV{Key: key, Length: raw, LengthValue: length, Offset: offset}, nil
}

// ReadBER reads a BER length field from the current stream position,
// returning the decoded length and the raw field bytes. Used when
// seeking straight to a known length field rather than walking units.
func ReadBER(r io.Reader) (int64, []byte, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, nil, &StructuralError{Msg: "missing BER length", Err: err}
	}

	raw := []byte{first[0]}
	if first[0]&0x80 != 0 {
		count := int(first[0] & 0x7f)
		if count == 0 || count > maxBERLength {
			return 0, nil, &StructuralError{Msg: fmt.Sprintf("invalid BER length of length %v", count)}
		}
		rest := make([]byte, count)
		if _, err := io.ReadFull(r, rest); err != nil {
			return 0, nil, &StructuralError{Msg: "truncated BER length", Err: err}
		}
		raw = append(raw, rest...)
	}

	length, _, err := BerDecode(raw)
	if err != nil {
		return 0, nil, &StructuralError{Msg: "bad BER length", Err: err}
	}
	return length, raw, nil
}

// ReadValue fetches the value bytes of a unit, leaving the stream
// positioned at the end of the unit.
func ReadValue(r io.ReadSeeker, k *KLV) ([]byte, error) {
	if _, err := r.Seek(k.ValueOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	value := make([]byte, k.LengthValue)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, &StructuralError{Offset: k.ValueOffset(),
			Msg: fmt.Sprintf("truncated value, wanted %v bytes", k.LengthValue), Err: err}
	}
	return value, nil
}

// ReadValueLimit fetches at most limit bytes from the start of a unit's
// value without moving past them, for peeking at fixed layout headers.
func ReadValueLimit(r io.ReadSeeker, k *KLV, limit int64) ([]byte, error) {
	if limit > k.LengthValue {
		limit = k.LengthValue
	}
	if _, err := r.Seek(k.ValueOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	value := make([]byte, limit)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, &StructuralError{Offset: k.ValueOffset(),
			Msg: fmt.Sprintf("truncated value, wanted %v bytes", limit), Err: err}
	}
	return value, nil
}

// Skip seeks forward over a unit's value, leaving the stream at the
// next unit's key.
func Skip(r io.Seeker, k *KLV) error {
	_, err := r.Seek(k.ValueOffset()+k.LengthValue, io.SeekStart)
	return err
}

// StreamSize returns the total stream size, restoring the position it
// was called at.
func StreamSize(r io.Seeker) (int64, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = r.Seek(pos, io.SeekStart)
	return size, err
}
