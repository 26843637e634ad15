// Package timing converts between frame indices and stream timestamps.
package timing

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// NoTimestamp mirrors libav's AV_NOPTS_VALUE: the timestamp is absent.
const NoTimestamp = astiav.NoPtsValue

// TimestampKind selects which timestamp of a packet is used for locating
// frames: the presentation timestamp by default, the decode timestamp when
// the stream never carries a usable PTS.
type TimestampKind int

const (
	TimestampPTS TimestampKind = iota
	TimestampDTS
)

func (k TimestampKind) String() string {
	switch k {
	case TimestampPTS:
		return "PTS"
	case TimestampDTS:
		return "DTS"
	}
	return fmt.Sprintf("TimestampKind(%d)", int(k))
}

// Timestamps carries both timestamps of one packet.
type Timestamps struct {
	PTS int64
	DTS int64
}

// Get extracts the timestamp of the requested kind.
func (t Timestamps) Get(kind TimestampKind) int64 {
	if kind == TimestampDTS {
		return t.DTS
	}
	return t.PTS
}

// Locator maps frame indices to stream timestamps and back, given the
// stream's frame rate and time base. All arithmetic is integer rational
// math so that repeated conversions cannot drift.
type Locator struct {
	StartTimestamp int64
	FPS            astiav.Rational
	TimeBase       astiav.Rational
}

// FrameToTimestamp returns the first stream timestamp that belongs to the
// given frame. It rounds up to the first tick inside the frame, which makes
// TimestampToFrame an exact inverse whenever the time base is at least as
// fine as the frame rate.
func (l Locator) FrameToTimestamp(frame int64) int64 {
	num := frame * int64(l.FPS.Den()) * int64(l.TimeBase.Den())
	den := int64(l.FPS.Num()) * int64(l.TimeBase.Num())
	return l.StartTimestamp + ceilDiv(num, den)
}

// TimestampToFrame returns the frame that contains the given timestamp.
func (l Locator) TimestampToFrame(timestamp int64) int64 {
	num := (timestamp - l.StartTimestamp) * int64(l.TimeBase.Num()) * int64(l.FPS.Num())
	den := int64(l.TimeBase.Den()) * int64(l.FPS.Den())
	return floorDiv(num, den)
}

func ceilDiv(a, b int64) int64 {
	if (a >= 0) == (b > 0) {
		return (a + b - 1) / b
	}
	return a / b
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
