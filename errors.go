package framereader

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFrame is returned when an out-of-range frame is requested
	// and loading the nearest frame instead was not allowed.
	ErrMissingFrame = errors.New("missing frame")

	// ErrStall is returned when the decoder keeps consuming packets without
	// producing frames past its reorder delay bound and no retries remain.
	ErrStall = errors.New("decoding stall detected, possible file corruption")

	// ErrNoTimingReference is returned when a seek landing point cannot be
	// resolved even after walking back to the start of the stream and
	// switching timestamp sources.
	ErrNoTimingReference = errors.New("unable to find a timing reference frame, possible file corruption")

	// ErrNoDecodeReference is returned when decoding stalls right after a
	// seek, the walk back reached the start of the stream and no retries
	// remain.
	ErrNoDecodeReference = errors.New("unable to find a decode reference frame, possible file corruption")

	// ErrUnsupportedContent is returned by Open when the container has no
	// video stream we can decode.
	ErrUnsupportedContent = errors.New("unable to find a decodable video stream")
)

// SeekError is an I/O-level seek failure; it fails the current decode call
// but does not invalidate the file handle.
type SeekError struct {
	Frame int64
	Err   error
}

func (e SeekError) Error() string {
	return fmt.Sprintf("unable to seek to frame %d: %v", e.Frame, e.Err)
}

func (e SeekError) Unwrap() error {
	return e.Err
}

// ReadError is a packet read failure other than end-of-stream.
type ReadError struct {
	Err error
}

func (e ReadError) Error() string {
	return fmt.Sprintf("unable to read a packet: %v", e.Err)
}

func (e ReadError) Unwrap() error {
	return e.Err
}

// DecodeError is an internal codec failure.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("unable to decode a frame: %v", e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}
