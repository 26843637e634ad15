package framereader

import (
	"github.com/asticode/go-astiav"

	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/framereader/pixfmt"
	"github.com/xaionaro-go/framereader/timing"
)

// Stream is the selected decodable video track and all of its decode
// progress state. One Stream exists per opened file and is mutated only
// under the file's lock.
type Stream struct {
	Index             int
	Width             int
	Height            int
	PixelFormat       astiav.PixelFormat
	OutputPixelFormat astiav.PixelFormat
	BitDepth          int
	Components        int
	Aspect            float64
	FPS               astiav.Rational
	TimeBase          astiav.Rational

	StartTimestamp int64
	TotalFrames    int64

	// nextFrameIn/nextFrameOut track decode progress; -1 means unknown
	// (right after a seek or a failed call).
	nextFrameIn        int64
	nextFrameOut       int64
	accumDecodeLatency int

	timestampKind timing.TimestampKind
	timestampSeen bool

	rec709         bool
	matrixOverride convert.ColorMatrix
}

func newStream(index int) *Stream {
	return &Stream{
		Index:        index,
		nextFrameIn:  -1,
		nextFrameOut: -1,
	}
}

func (s *Stream) locator() timing.Locator {
	return timing.Locator{
		StartTimestamp: s.StartTimestamp,
		FPS:            s.FPS,
		TimeBase:       s.TimeBase,
	}
}

func (s *Stream) isYUV() bool {
	return pixfmt.IsYUV(s.PixelFormat)
}

// rowSize is the byte width of one row of the output buffer.
func (s *Stream) rowSize() int {
	return s.Components * s.Width * pixfmt.BytesPerSample(s.BitDepth)
}

// bufferSize is the total byte size of the output buffer.
func (s *Stream) bufferSize() int {
	return s.rowSize() * s.Height
}

// resetProgress invalidates the decode progress so the next call starts
// with a fresh seek.
func (s *Stream) resetProgress() {
	s.nextFrameIn = -1
	s.nextFrameOut = -1
	s.accumDecodeLatency = 0
}
