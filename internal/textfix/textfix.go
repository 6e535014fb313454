// Package textfix repairs text that chat exports write as UTF-8 bytes
// escaped one code point per byte.
package textfix

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeError reports input whose bytes are not valid UTF-8.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("decode %q: invalid utf-8", e.Input)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode reverses the export's mis-encoding. "RenÃ©" becomes "René".
// Text that is already decoded comes back unchanged: ASCII, text holding
// code points above U+00FF, and Latin-1 text such as "René" whose bytes do
// not reinterpret as UTF-8.
func Decode(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", &DecodeError{Input: s}
	}
	if isASCII(s) || !latin1Only(s) {
		return s, nil
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return "", &DecodeError{Input: s, Err: err}
	}
	if !utf8.ValidString(raw) {
		return s, nil
	}
	return raw, nil
}

// DecodePtr is Decode for nullable fields. nil stays nil.
func DecodePtr(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	out, err := Decode(*s)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func latin1Only(s string) bool {
	for _, r := range s {
		if r > 0xFF {
			return false
		}
	}
	return true
}
