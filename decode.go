package framereader

import (
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/framereader/logger"
	"github.com/xaionaro-go/xsync"

	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/framereader/timing"
)

// Decode produces the exact image of the requested frame into the buffer
// returned by Data. When loadNearest is set, out-of-range requests are
// clamped to the nearest valid frame instead of failing. maxRetries bounds
// how many times a detected decode stall is retried from scratch.
//
// Sequential requests without gaps ride the decoder with no seeking; any
// other request seeks first. On failure the progress state is reset, so
// the next call starts clean with a fresh seek.
func (f *File) Decode(
	ctx context.Context,
	frame int64,
	loadNearest bool,
	maxRetries int,
) (_err error) {
	logger.Debugf(ctx, "Decode(ctx, %d, %t, %d)", frame, loadNearest, maxRetries)
	defer func() { logger.Debugf(ctx, "/Decode(ctx, %d, %t, %d): %v", frame, loadNearest, maxRetries, _err) }()
	return xsync.DoR1(ctx, &f.locker, func() error {
		err := f.decode(ctx, frame, loadNearest, maxRetries)
		if err != nil {
			f.setError(err)
			if f.stream != nil {
				f.stream.nextFrameOut = -1
			}
		}
		return err
	})
}

func (f *File) decode(
	ctx context.Context,
	target int64,
	loadNearest bool,
	maxRetries int,
) error {
	s := f.stream
	if s == nil {
		return ErrUnsupportedContent
	}

	if target < 0 {
		if !loadNearest {
			return ErrMissingFrame
		}
		target = 0
	} else if target >= s.TotalFrames {
		if !loadNearest {
			return ErrMissingFrame
		}
		target = s.TotalFrames - 1
	}

	// A small subset of files stalls on the first pass through certain
	// frames but decodes them fine on a second attempt; the retry budget
	// also bounds the recovery loops below so the call always terminates.
	retriesRemaining := maxRetries
	if retriesRemaining < 0 {
		retriesRemaining = 0
	}

	// While a seek is in flight, lastSeekedFrame is the frame we seeked to
	// and we do not yet know where the seek landed; -1 means no seek in
	// progress. awaitingFirstDecode stays set until the first frame comes
	// out of the decoder after a seek and selects how a stall is handled.
	lastSeekedFrame := int64(-1)
	awaitingFirstDecode := false

	seekTo := func(frame int64) error {
		lastSeekedFrame = frame
		awaitingFirstDecode = true
		s.resetProgress()
		if err := f.backend.Seek(ctx, s.locator().FrameToTimestamp(frame)); err != nil {
			return SeekError{Frame: frame, Err: err}
		}
		return nil
	}

	if target != s.nextFrameOut {
		logger.Debugf(ctx, "next frame expected out is %d, seeking to frame %d", s.nextFrameOut, target)
		if err := seekTo(target); err != nil {
			return err
		}
	} else {
		logger.Debugf(ctx, "no seek required for frame %d", target)
	}

	for {
		decodeAttempted := false
		frameDecoded := false
		srcColorRange := f.backend.SourceColorRange()

		if s.nextFrameIn < s.TotalFrames {
			info, err := f.backend.ReadPacket(ctx)
			switch {
			case errors.Is(err, io.EOF):
				// The timeline metadata overstated the stream length; clamp
				// to the frames actually read.
				logger.Warnf(ctx, "premature end of stream, clamping the frame count from %d to %d", s.TotalFrames, s.nextFrameIn)
				s.TotalFrames = s.nextFrameIn
				if loadNearest {
					if s.TotalFrames <= 0 {
						return ReadError{Err: err}
					}
					target = s.TotalFrames - 1
					if err := seekTo(target); err != nil {
						return err
					}
				}
				continue
			case err != nil:
				return ReadError{Err: err}
			}

			if info.StreamIndex != s.Index {
				f.backend.DiscardPacket(ctx)
				continue
			}

			if info.Timestamps.PTS != timing.NoTimestamp {
				s.timestampSeen = true
			}

			if lastSeekedFrame >= 0 {
				// Figure out which frame the seek landed at. No timestamp on
				// the packet, or a landing point past the target (seeks can
				// overshoot), means we cannot synchronise from here and must
				// seek further back.
				ts := info.Timestamps.Get(s.timestampKind)
				landingFrame := s.locator().TimestampToFrame(ts)
				if ts == timing.NoTimestamp || landingFrame > lastSeekedFrame {
					f.backend.DiscardPacket(ctx)
					next := lastSeekedFrame - 1
					if next < 0 {
						if s.timestampKind == timing.TimestampPTS && !s.timestampSeen {
							logger.Debugf(ctx, "the stream never showed a valid PTS, switching to DTS")
							s.timestampKind = timing.TimestampDTS
							next = target
						} else {
							return ErrNoTimingReference
						}
					}
					if err := seekTo(next); err != nil {
						return err
					}
					continue
				}
				logger.Debugf(ctx, "seek to frame %d landed at frame %d", lastSeekedFrame, landingFrame)
				s.nextFrameIn = landingFrame
				s.nextFrameOut = landingFrame
				lastSeekedFrame = -1
			}

			s.nextFrameIn++
			decodeAttempted = true
			frameDecoded, err = f.backend.DecodePacket(ctx)
			if err != nil {
				return DecodeError{Err: err}
			}
		} else {
			// Nothing left to read; pump the decoder to flush out frames it
			// still holds.
			var err error
			decodeAttempted = true
			frameDecoded, err = f.backend.DrainStep(ctx)
			if err != nil {
				return DecodeError{Err: err}
			}
		}

		if frameDecoded {
			// The seek landed at a valid decode start; stalls from now on
			// are mid-stream stalls.
			awaitingFirstDecode = false

			if s.nextFrameOut == target {
				logger.Debugf(ctx, "frame %d decoded", target)
				if err := f.render(ctx, srcColorRange); err != nil {
					return err
				}
				s.nextFrameOut++
				return nil
			}
			s.nextFrameOut++
			continue
		}

		if !decodeAttempted {
			continue
		}

		s.accumDecodeLatency++
		if s.accumDecodeLatency <= f.backend.ReorderDelay() {
			continue
		}

		// Decode stall. The reorder delay bound is re-read every iteration
		// because it can grow when the codec discovers B-frames mid-stream.
		var seekTargetFrame int64
		if awaitingFirstDecode {
			switch {
			case s.nextFrameOut > 0:
				// The landing frame claimed to be a key-frame but was not;
				// walk back to search for a real decode start.
				seekTargetFrame = s.nextFrameOut - 1
				logger.Debugf(ctx, "post-seek stall, trying an earlier decode start at frame %d", seekTargetFrame)
			case retriesRemaining > 0:
				retriesRemaining--
				seekTargetFrame = target
				logger.Debugf(ctx, "post-seek stall at the start of the stream, retrying from frame %d", seekTargetFrame)
			default:
				return ErrNoDecodeReference
			}
		} else {
			if retriesRemaining <= 0 {
				return ErrStall
			}
			retriesRemaining--
			seekTargetFrame = target
			logger.Debugf(ctx, "mid-stream stall, retrying from frame %d", seekTargetFrame)
		}
		if err := seekTo(seekTargetFrame); err != nil {
			return err
		}
	}
}

// render converts the just-decoded frame into the output buffer.
func (f *File) render(ctx context.Context, srcColorRange astiav.ColorRange) error {
	s := f.stream
	return f.backend.Render(ctx, convert.Params{
		SrcPixelFormat: s.PixelFormat,
		SrcWidth:       s.Width,
		SrcHeight:      s.Height,
		SrcColorRange:  srcColorRange,
		DstPixelFormat: s.OutputPixelFormat,
		DstWidth:       s.Width,
		DstHeight:      s.Height,
		Rec709:         s.rec709,
		MatrixOverride: s.matrixOverride,
	}, f.data)
}
