// Package httputil provides helpers for working with HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxBodyBytes caps request bodies to 1MB.
const DefaultMaxBodyBytes int64 = 1 << 20

// ErrBodyTooLarge is returned when a body exceeds its limit.
var ErrBodyTooLarge = errors.New("body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrBodyTooLarge
// along with the first maxBytes when the limit is exceeded. A non-positive
// limit reads everything.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrBodyTooLarge
	}
	return body, nil
}
