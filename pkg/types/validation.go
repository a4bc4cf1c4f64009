package types

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxClientIDBytes bounds a client ID so it fits comfortably in a header,
// a query string and a Redis key.
const MaxClientIDBytes = 256

// MaxTextBytes bounds the size of a single chat message.
const MaxTextBytes = 65536

// IsValidClientID accepts any opaque identifier that can travel in the
// Client-Id header unchanged: non-empty, valid UTF-8, no control
// characters, no surrounding whitespace and at most MaxClientIDBytes.
func IsValidClientID(id string) bool {
	if id == "" || len(id) > MaxClientIDBytes {
		return false
	}
	if !utf8.ValidString(id) || strings.TrimSpace(id) != id {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Validate returns ErrInvalidClientID when id cannot be carried as is.
func (id ClientID) Validate() error {
	if !IsValidClientID(string(id)) {
		return ErrInvalidClientID
	}
	return nil
}

// ValidateText rejects blank and oversized chat text.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}
