// Package chunk implements the striping protocol used to store a secret
// across several size-capped credential entries: the per-entry header
// codec, the splitter and the assembler.
//
// Every entry is framed as
//
//	{part}/{total}|{payload}
//
// where part and total are unsigned decimal numbers. Only the first '|'
// is interpreted, so payloads may contain any bytes.
package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/atinyakov/stripekeeper/internal/models"
)

const (
	delimiter = '|'
	separator = '/'

	// maxHeaderLen is the length of "4294967295/4294967295|".
	maxHeaderLen = 22
)

var (
	// ErrMalformed indicates the entry has no delimiter or the header is not
	// of the form digits/digits.
	ErrMalformed = errors.New("malformed chunk header")
	// ErrInvalidRange indicates a well-formed header with part or total out
	// of range.
	ErrInvalidRange = errors.New("chunk header out of range")
)

// HeaderError describes why a chunk header could not be decoded.
type HeaderError struct {
	// Kind is ErrMalformed or ErrInvalidRange.
	Kind error
	// Header holds the raw header bytes that were inspected.
	Header string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%v: %q", e.Kind, e.Header)
}

func (e *HeaderError) Unwrap() error { return e.Kind }

// Encode frames payload with its part/total header.
func Encode(part, total uint32, payload []byte) []byte {
	out := make([]byte, 0, HeaderLen(part, total)+len(payload))
	out = strconv.AppendUint(out, uint64(part), 10)
	out = append(out, separator)
	out = strconv.AppendUint(out, uint64(total), 10)
	out = append(out, delimiter)
	return append(out, payload...)
}

// Decode parses a raw entry into a Frame. The returned payload aliases raw.
func Decode(raw []byte) (models.Frame, error) {
	scan := raw
	if len(scan) > maxHeaderLen {
		scan = scan[:maxHeaderLen]
	}
	end := bytes.IndexByte(scan, delimiter)
	if end < 0 {
		return models.Frame{}, &HeaderError{Kind: ErrMalformed, Header: string(scan)}
	}
	header := raw[:end]

	slash := bytes.IndexByte(header, separator)
	if slash < 0 {
		return models.Frame{}, &HeaderError{Kind: ErrMalformed, Header: string(header)}
	}
	part, ok := parseDigits(header[:slash])
	if !ok {
		return models.Frame{}, &HeaderError{Kind: ErrMalformed, Header: string(header)}
	}
	total, ok := parseDigits(header[slash+1:])
	if !ok {
		return models.Frame{}, &HeaderError{Kind: ErrMalformed, Header: string(header)}
	}
	if part == 0 || total == 0 || part > total {
		return models.Frame{}, &HeaderError{Kind: ErrInvalidRange, Header: string(header)}
	}

	return models.Frame{Part: part, Total: total, Payload: raw[end+1:]}, nil
}

// HeaderLen returns the encoded header length for the given part and total.
func HeaderLen(part, total uint32) int {
	return digits(part) + digits(total) + 2
}

// parseDigits accepts only ASCII digits; strconv alone would allow a sign.
func parseDigits(b []byte) (uint32, bool) {
	if len(b) == 0 {
		return 0, false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func digits(n uint32) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}
