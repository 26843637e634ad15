// Package framereader provides frame-accurate random access to compressed
// video: given an arbitrary frame index it returns the exact decoded image
// for that frame, driving a seek-then-decode protocol that compensates for
// decoder latency, absent timestamps and container inconsistencies.
package framereader

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/framereader/logger"
	"github.com/xaionaro-go/xsync"

	"github.com/xaionaro-go/framereader/codec"
	"github.com/xaionaro-go/framereader/helpers/closuresignaler"
	"github.com/xaionaro-go/framereader/container"
	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/framereader/pixfmt"
	"github.com/xaionaro-go/framereader/timeline"
)

// OpenOptions tunes how a file is opened. The zero value is the default.
type OpenOptions struct {
	// DecodingThreads overrides the decoding worker count when positive.
	DecodingThreads int
}

// File is an opened video file. All public operations on one File are
// serialized by an internal lock; a decode call runs to completion once
// invoked.
type File struct {
	locker xsync.Mutex

	url      string
	backend  backend
	stream   *Stream
	data     []byte
	closedAt *closuresignaler.ClosureSignaler

	errorMsg string
	invalid  bool
}

// Open probes the file at the given path and prepares its first decodable
// video stream for frame-accurate reading. On failure the returned File is
// flagged invalid and keeps the error text for GetError.
func Open(
	ctx context.Context,
	path string,
	opts OpenOptions,
) (_ret *File, _err error) {
	logger.Debugf(ctx, "Open(ctx, '%s', %#+v)", path, opts)
	defer func() { logger.Debugf(ctx, "/Open(ctx, '%s', %#+v): %v %v", path, opts, _ret, _err) }()

	f := &File{url: path, closedAt: closuresignaler.New()}
	defer func() {
		if _err != nil {
			f.invalid = true
			f.errorMsg = _err.Error()
		}
	}()

	input, err := container.Open(ctx, path)
	if err != nil {
		return f, fmt.Errorf("unable to open '%s': %w", path, err)
	}

	if err := f.setupStream(ctx, input, opts); err != nil {
		if closeErr := input.Close(ctx); closeErr != nil {
			logger.Errorf(ctx, "unable to close the input: %v", closeErr)
		}
		return f, err
	}

	return f, nil
}

func (f *File) setupStream(
	ctx context.Context,
	input *container.Input,
	opts OpenOptions,
) error {
	avStream := selectVideoStream(ctx, input)
	if avStream == nil {
		return ErrUnsupportedContent
	}

	codecParameters := avStream.CodecParameters()
	threadCount := codec.DecodingThreads(opts.DecodingThreads)
	decoder, err := codec.NewDecoder(ctx, codecParameters, avStream.TimeBase(), threadCount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedContent, err)
	}

	s := newStream(avStream.Index())
	s.Width = codecParameters.Width()
	s.Height = codecParameters.Height()
	s.TimeBase = avStream.TimeBase()
	s.PixelFormat = decoder.PixelFormat()
	s.BitDepth = decoder.BitsPerRawSample()
	srcComponents := 3
	if t, ok := pixfmt.Lookup(s.PixelFormat); ok {
		srcComponents = t.Components
	}
	s.Components = pixfmt.OutputComponents(srcComponents)
	s.OutputPixelFormat = pixfmt.OutputFormatFor(s.BitDepth, s.Components)
	// Rec.709 content: either the codec says so or the material is HD-sized.
	s.rec709 = decoder.ColorSpace() == astiav.ColorSpaceBt709 || s.Height >= 720

	s.FPS = avStream.RFrameRate()
	if s.FPS.Num() == 0 || s.FPS.Den() == 0 {
		logger.Warnf(ctx, "frame rate unspecified, assuming 1 fps")
		s.FPS = astiav.NewRational(1, 1)
	}

	s.Aspect = 1
	if sar := avStream.SampleAspectRatio(); sar.Num() != 0 {
		s.Aspect = sar.Float64()
	}

	f.backend = newLibavBackend(input, decoder, s.Index)
	f.stream = s

	scanner := backendScanner{backend: f.backend}
	md := timeline.Metadata{
		StreamIndex:          s.Index,
		StreamStartTimestamp: avStream.StartTime(),
		ContainerDuration:    input.FormatContext.Duration(),
		DeclaredFrameCount:   avStream.NbFrames(),
		StreamDuration:       avStream.Duration(),
		TimeBase:             s.TimeBase,
		FPS:                  s.FPS,
	}
	s.StartTimestamp = timeline.ResolveStartTimestamp(ctx, md, scanner)
	totalFrames, err := timeline.ResolveFrameCount(ctx, md, s.locator(), scanner)
	if err != nil {
		return fmt.Errorf("unable to measure the stream length: %w", err)
	}
	s.TotalFrames = totalFrames

	f.data = make([]byte, s.bufferSize())
	logger.Tracef(ctx, "opened stream: %s", spew.Sdump(s))
	return nil
}

// selectVideoStream picks the first video stream we have a decoder for.
func selectVideoStream(
	ctx context.Context,
	input *container.Input,
) *astiav.Stream {
	for _, avStream := range input.FormatContext.Streams() {
		codecParameters := avStream.CodecParameters()
		if codecParameters.MediaType() != astiav.MediaTypeVideo {
			logger.Tracef(ctx, "stream %d: not a video stream, skipping", avStream.Index())
			continue
		}
		if astiav.FindDecoder(codecParameters.CodecID()) == nil {
			logger.Debugf(ctx, "stream %d: no decoder for codec ID %v, skipping", avStream.Index(), codecParameters.CodecID())
			continue
		}
		return avStream
	}
	return nil
}

// backendScanner adapts the backend to the timeline probing interface.
type backendScanner struct {
	backend backend
}

var _ timeline.PacketScanner = backendScanner{}

func (s backendScanner) SeekBackward(ctx context.Context, timestamp int64) error {
	return s.backend.Seek(ctx, timestamp)
}

func (s backendScanner) ReadPacketInfo(ctx context.Context) (timeline.PacketInfo, error) {
	info, err := s.backend.ReadPacket(ctx)
	if err != nil {
		return timeline.PacketInfo{}, err
	}
	s.backend.DiscardPacket(ctx)
	return timeline.PacketInfo{
		StreamIndex: info.StreamIndex,
		Timestamps:  info.Timestamps,
	}, nil
}

// Close releases the decoder, the conversion context and the container.
// Closing twice is a no-op.
func (f *File) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &f.locker, func() error {
		logger.Debugf(ctx, "Close(ctx): '%s'", f.url)
		if f.closedAt != nil {
			if f.closedAt.IsClosed() {
				return nil
			}
			f.closedAt.Close(ctx)
		}
		f.stream = nil
		f.data = nil
		if f.backend == nil {
			return nil
		}
		err := f.backend.Close(ctx)
		f.backend = nil
		return err
	})
}

// GetInfo reports the stream geometry: width, height, pixel aspect ratio
// and total frame count.
func (f *File) GetInfo(ctx context.Context) (width, height int, aspect float64, frames int64, ok bool) {
	f.locker.Do(ctx, func() {
		if f.stream == nil {
			return
		}
		width = f.stream.Width
		height = f.stream.Height
		aspect = f.stream.Aspect
		frames = f.stream.TotalFrames
		ok = true
	})
	return
}

// GetFrameRate reports the stream's frame rate.
func (f *File) GetFrameRate(ctx context.Context) (astiav.Rational, bool) {
	return xsync.DoR2(ctx, &f.locker, func() (astiav.Rational, bool) {
		if f.stream == nil {
			return astiav.NewRational(0, 0), false
		}
		return f.stream.FPS, true
	})
}

// GetRowSize is the byte width of one output row: channel count times
// width, times two for bit depths above 8. Returns 0 when no stream is
// open.
func (f *File) GetRowSize(ctx context.Context) int {
	return xsync.DoR1(ctx, &f.locker, func() int {
		if f.stream == nil {
			return 0
		}
		return f.stream.rowSize()
	})
}

// GetBufferSize is the total byte size of the output buffer. Returns 0
// when no stream is open.
func (f *File) GetBufferSize(ctx context.Context) int {
	return xsync.DoR1(ctx, &f.locker, func() int {
		if f.stream == nil {
			return 0
		}
		return f.stream.bufferSize()
	})
}

// Data is the output buffer of the last successful Decode. It is
// overwritten in place by the next successful call; copy it out to retain
// a frame.
func (f *File) Data(ctx context.Context) []byte {
	return xsync.DoR1(ctx, &f.locker, func() []byte {
		return f.data
	})
}

// GetError is the stored text of the last failure.
func (f *File) GetError(ctx context.Context) string {
	return xsync.DoR1(ctx, &f.locker, func() string {
		return f.errorMsg
	})
}

// IsInvalid reports whether the file failed to open and can never decode.
func (f *File) IsInvalid(ctx context.Context) bool {
	return xsync.DoR1(ctx, &f.locker, func() bool {
		return f.invalid
	})
}

// SetColorMatrixOverride forces the YUV to RGB matrix choice for
// subsequent decodes; the cached conversion context is rebuilt on the next
// frame.
func (f *File) SetColorMatrixOverride(ctx context.Context, m convert.ColorMatrix) {
	f.locker.Do(ctx, func() {
		if f.stream == nil {
			return
		}
		f.stream.matrixOverride = m
		if b, ok := f.backend.(*libavBackend); ok {
			b.InvalidateConversion()
		}
	})
}

// Colorspace names the colorspace the decoded data should be interpreted
// in, based on the underlying storage: YCbCr content defaults to gamma 2.2
// and RGB content to gamma 1.8.
func (f *File) Colorspace(ctx context.Context) string {
	return xsync.DoR1(ctx, &f.locker, func() string {
		if f.stream == nil || f.stream.isYUV() {
			return "Gamma2.2"
		}
		return "Gamma1.8"
	})
}

func (f *File) setError(err error) {
	f.errorMsg = err.Error()
}
