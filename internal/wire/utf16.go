// Package wire converts between the UTF-8 text used by callers and the
// little-endian UTF-16 text the storage service expects on the wire.
package wire

import (
	"encoding/binary"
	"errors"
	"syscall"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrIllegalSequence is returned for text that is not valid UTF-8 or UTF-16
	ErrIllegalSequence = syscall.EILSEQ
	// ErrTooLong is returned when the converted text does not fit its bound
	ErrTooLong = syscall.ENAMETOOLONG
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16 converts s to NUL-terminated little-endian UTF-16. The text,
// excluding the terminator, must occupy fewer than maxUnits code units.
// The returned slice is freshly allocated.
func EncodeUTF16(s string, maxUnits int) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrIllegalSequence
	}

	dst := make([]byte, maxUnits*2+2)
	nDst, _, err := utf16le.NewEncoder().Transform(dst[:maxUnits*2], []byte(s), true)
	if err != nil {
		if errors.Is(err, transform.ErrShortDst) {
			return nil, ErrTooLong
		}
		return nil, ErrIllegalSequence
	}
	if nDst/2 >= maxUnits {
		return nil, ErrTooLong
	}

	// Terminator bytes are already zero.
	return dst[:nDst+2], nil
}

// DecodeUTF16 converts a NUL-terminated (or full) UTF-16 buffer to UTF-8.
// The result must be shorter than maxBytes.
func DecodeUTF16(units []uint16, maxBytes int) (string, error) {
	n := 0
	for n < len(units) && units[n] != 0 {
		n++
	}
	units = units[:n]

	if err := validateSurrogates(units); err != nil {
		return "", err
	}

	src := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(src[i*2:], u)
	}

	dst := make([]byte, maxBytes)
	nDst, _, err := utf16le.NewDecoder().Transform(dst, src, true)
	if err != nil {
		if errors.Is(err, transform.ErrShortDst) {
			return "", ErrTooLong
		}
		return "", ErrIllegalSequence
	}
	if nDst >= maxBytes {
		return "", ErrTooLong
	}
	return string(dst[:nDst]), nil
}

// UnitsFromBytes reinterprets little-endian UTF-16 bytes as code units
func UnitsFromBytes(b []byte) []uint16 {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return units
}

// StringFromBytes decodes a little-endian UTF-16 payload without a length bound
func StringFromBytes(b []byte) (string, error) {
	units := UnitsFromBytes(b)
	n := 0
	for n < len(units) && units[n] != 0 {
		n++
	}
	units = units[:n]
	if err := validateSurrogates(units); err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// validateSurrogates rejects unpaired surrogate halves, which the
// transcoder would otherwise silently replace.
func validateSurrogates(units []uint16) error {
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case 0xD800 <= u && u < 0xDC00:
			if i+1 >= len(units) {
				return ErrIllegalSequence
			}
			next := rune(units[i+1])
			if next < 0xDC00 || next >= 0xE000 {
				return ErrIllegalSequence
			}
			i++
		case 0xDC00 <= u && u < 0xE000:
			return ErrIllegalSequence
		}
	}
	return nil
}
