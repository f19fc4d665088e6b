package fwmeta

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMarker = errors.New("invalid metadata marker")
	ErrShortBlock    = errors.New("buffer shorter than a metadata block")
	ErrFieldTooLong  = errors.New("field does not fit its slot")
	ErrFieldHasNul   = errors.New("field contains a NUL byte")
	ErrInvalidText   = errors.New("field is not valid UTF-8")
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	ErrUnknownFormat = errors.New("unknown image format")
	ErrEmptyHex      = errors.New("intel hex file contains no data")
	ErrOutOfRange    = errors.New("offset out of range")
)

// Which of the two bracketing markers a FormatError is about
type MarkerKind int

const (
	StartMarker MarkerKind = iota
	EndMarker
)

func (k MarkerKind) String() string {
	if k == EndMarker {
		return "end"
	}
	return "start"
}

// FormatError is returned by Decode when a block's markers don't match.
// errors.Is(err, ErrInvalidMarker) holds for every FormatError.
type FormatError struct {
	Marker MarkerKind
	Got    uint32
	Want   uint32
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s marker: got 0x%08X, want 0x%08X", e.Marker, e.Got, e.Want)
}

func (e *FormatError) Unwrap() error {
	return ErrInvalidMarker
}

// FieldError names the text field that failed a strict encode or decode
type FieldError struct {
	Field    string
	Length   int
	Capacity int
	Err      error
}

func (e *FieldError) Error() string {
	if e.Capacity > 0 {
		return fmt.Sprintf("%s: %s (%d bytes, max %d)", e.Field, e.Err, e.Length, e.Capacity-1)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
