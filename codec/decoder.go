// Package codec wraps a libav video decoder for frame-accurate reading:
// packet-in/frame-out stepping, draining, buffer flushes and the reorder
// delay bound used for stall detection.
package codec

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/framereader/logger"
	"github.com/xaionaro-go/unsafetools"
)

type Decoder struct {
	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	closer       *astikit.Closer

	threadCount int
}

// NewDecoder opens a decoder for the given stream parameters. threadCount
// is the number of decoding workers the codec may use; it also contributes
// to the reorder delay bound.
func NewDecoder(
	ctx context.Context,
	codecParameters *astiav.CodecParameters,
	timeBase astiav.Rational,
	threadCount int,
) (_ret *Decoder, _err error) {
	logger.Debugf(ctx, "NewDecoder(ctx, %s, %v, %d)", codecParameters.CodecID(), timeBase, threadCount)
	defer func() { logger.Debugf(ctx, "/NewDecoder(ctx, %s, %v, %d): %v", codecParameters.CodecID(), timeBase, threadCount, _err) }()

	d := &Decoder{
		closer:      astikit.NewCloser(),
		threadCount: threadCount,
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the decoder: %v", _err)
			_ = d.Close(ctx)
		}
	}()

	if logger.FromCtx(ctx).Level() >= logger.LevelTrace {
		logger.Tracef(ctx, "codec_parameters: %s", spew.Sdump(unsafetools.FieldByNameInValue(reflect.ValueOf(codecParameters), "c").Elem().Elem().Interface()))
	}

	d.codec = astiav.FindDecoder(codecParameters.CodecID())
	if d.codec == nil {
		return nil, fmt.Errorf("unable to find a decoder for codec ID %v", codecParameters.CodecID())
	}

	d.codecContext = astiav.AllocCodecContext(d.codec)
	if d.codecContext == nil {
		return nil, fmt.Errorf("unable to allocate codec context")
	}
	d.closer.Add(d.codecContext.Free)

	if err := codecParameters.ToCodecContext(d.codecContext); err != nil {
		return nil, fmt.Errorf("codecParameters.ToCodecContext(...) returned error: %w", err)
	}
	d.codecContext.SetThreadCount(threadCount)
	d.codecContext.SetTimeBase(timeBase)

	if err := d.codecContext.Open(d.codec, nil); err != nil {
		return nil, fmt.Errorf("unable to open the codec context: %w", err)
	}

	return d, nil
}

func (d *Decoder) String() string {
	return fmt.Sprintf("Decoder(%s)", d.codec.Name())
}

// PixelFormat is the decoded (native) pixel format.
func (d *Decoder) PixelFormat() astiav.PixelFormat {
	return d.codecContext.PixelFormat()
}

// ColorRange is the white-black range reported by the codec.
func (d *Decoder) ColorRange() astiav.ColorRange {
	return d.codecContext.ColorRange()
}

// ColorSpace is the YUV matrix reported by the codec.
func (d *Decoder) ColorSpace() astiav.ColorSpace {
	return d.codecContext.ColorSpace()
}

// BitsPerRawSample reports the effective bit depth of decoded samples,
// defaulting to 8 when the codec does not say.
func (d *Decoder) BitsPerRawSample() int {
	if v := unsafeBitsPerRawSample(d.codecContext); v > 0 {
		return v
	}
	return 8
}

// ReorderDelay is the current upper bound on how many packets the decoder
// may consume before emitting a frame. It can grow mid-stream when the
// codec discovers B-frames, so callers must re-read it on every decode.
func (d *Decoder) ReorderDelay() int {
	return unsafeHasBFrames(d.codecContext) + d.threadCount
}

// DecodeStep feeds one packet into the decoder (nil to drain) and tries to
// receive one decoded frame into the scratch frame. It reports whether a
// frame was produced; no frame and no error means the decoder is still
// buffering.
func (d *Decoder) DecodeStep(
	ctx context.Context,
	packet *astiav.Packet,
	frame *astiav.Frame,
) (bool, error) {
	if err := d.codecContext.SendPacket(packet); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			// The internal queue is full; receiving below makes room.
		case errors.Is(err, astiav.ErrEof):
			// Already draining.
		default:
			return false, fmt.Errorf("unable to send a packet to the decoder: %w", err)
		}
	}

	err := d.codecContext.ReceiveFrame(frame)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, astiav.ErrEagain), errors.Is(err, astiav.ErrEof):
		return false, nil
	default:
		return false, fmt.Errorf("unable to receive a frame from the decoder: %w", err)
	}
}

// Drain asks the decoder for one of its internally buffered frames.
func (d *Decoder) Drain(
	ctx context.Context,
	frame *astiav.Frame,
) (bool, error) {
	return d.DecodeStep(ctx, nil, frame)
}

// FlushBuffers discards all internally buffered state, required before a
// seek repositions the demuxer.
func (d *Decoder) FlushBuffers(ctx context.Context) {
	logger.Tracef(ctx, "FlushBuffers")
	d.codecContext.FlushBuffers()
}

func (d *Decoder) Close(ctx context.Context) error {
	logger.Debugf(ctx, "closing the decoder")
	return d.closer.Close()
}
