package framereader

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/framereader/logger"

	"github.com/xaionaro-go/framereader/codec"
	"github.com/xaionaro-go/framereader/container"
	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/framereader/timing"
)

// packetInfo is what the decode loop needs to know about one read packet.
type packetInfo struct {
	StreamIndex int
	Timestamps  timing.Timestamps
}

// backend is the demux/decode/convert surface the decode session drives.
// The production implementation wraps libav; tests substitute a synthetic
// one.
type backend interface {
	// ReadPacket reads the next packet of any stream into internal scratch
	// storage, releasing the previous one. Returns io.EOF at the end of the
	// container.
	ReadPacket(ctx context.Context) (packetInfo, error)
	// DiscardPacket releases the scratch packet without decoding it.
	DiscardPacket(ctx context.Context)
	// DecodePacket feeds the scratch packet into the decoder, releases it,
	// and reports whether a decoded frame came out.
	DecodePacket(ctx context.Context) (bool, error)
	// DrainStep asks the decoder for a buffered frame without new input.
	DrainStep(ctx context.Context) (bool, error)
	// Seek flushes the decoder and repositions the demuxer at or before
	// the given timestamp.
	Seek(ctx context.Context, timestamp int64) error
	// ReorderDelay is the decoder's current reorder delay bound; it may
	// grow mid-stream.
	ReorderDelay() int
	// SourceColorRange is the white-black range currently reported by the
	// codec.
	SourceColorRange() astiav.ColorRange
	// Render converts the most recently decoded frame into dst.
	Render(ctx context.Context, params convert.Params, dst []byte) error

	Close(ctx context.Context) error
}

// libavBackend drives a real container and decoder.
type libavBackend struct {
	input       *container.Input
	decoder     *codec.Decoder
	streamIndex int

	packet       *astiav.Packet
	frame        *astiav.Frame
	convertCache *convert.Cache
}

var _ backend = (*libavBackend)(nil)

func newLibavBackend(
	input *container.Input,
	decoder *codec.Decoder,
	streamIndex int,
) *libavBackend {
	b := &libavBackend{
		input:       input,
		decoder:     decoder,
		streamIndex: streamIndex,
		packet:      astiav.AllocPacket(),
		frame:       astiav.AllocFrame(),
	}
	b.convertCache = convert.NewCache(newScaleContext)
	return b
}

func (b *libavBackend) ReadPacket(ctx context.Context) (packetInfo, error) {
	b.packet.Unref()
	if err := b.input.ReadIntoPacket(ctx, b.packet); err != nil {
		return packetInfo{}, err
	}
	return packetInfo{
		StreamIndex: b.packet.StreamIndex(),
		Timestamps: timing.Timestamps{
			PTS: b.packet.Pts(),
			DTS: b.packet.Dts(),
		},
	}, nil
}

func (b *libavBackend) DiscardPacket(ctx context.Context) {
	b.packet.Unref()
}

func (b *libavBackend) DecodePacket(ctx context.Context) (bool, error) {
	defer b.packet.Unref()
	return b.decoder.DecodeStep(ctx, b.packet, b.frame)
}

func (b *libavBackend) DrainStep(ctx context.Context) (bool, error) {
	return b.decoder.Drain(ctx, b.frame)
}

func (b *libavBackend) Seek(ctx context.Context, timestamp int64) error {
	b.decoder.FlushBuffers(ctx)
	return b.input.SeekBackward(ctx, b.streamIndex, timestamp)
}

func (b *libavBackend) ReorderDelay() int {
	return b.decoder.ReorderDelay()
}

func (b *libavBackend) SourceColorRange() astiav.ColorRange {
	return b.decoder.ColorRange()
}

func (b *libavBackend) Render(
	ctx context.Context,
	params convert.Params,
	dst []byte,
) error {
	converter, err := b.convertCache.Get(ctx, params)
	if err != nil {
		return err
	}
	return converter.(*scaleContext).render(ctx, b.frame, dst)
}

// InvalidateConversion flags the cached conversion context for a rebuild.
func (b *libavBackend) InvalidateConversion() {
	b.convertCache.Invalidate()
}

func (b *libavBackend) Close(ctx context.Context) error {
	b.convertCache.Close()
	if b.frame != nil {
		b.frame.Free()
		b.frame = nil
	}
	if b.packet != nil {
		b.packet.Free()
		b.packet = nil
	}
	if err := b.decoder.Close(ctx); err != nil {
		logger.Errorf(ctx, "unable to close the decoder: %v", err)
	}
	return b.input.Close(ctx)
}

// scaleContext is one constructed software scale context together with the
// color handling it was built for and the destination frame it scales into.
type scaleContext struct {
	sws     *astiav.SoftwareScaleContext
	dst     *astiav.Frame
	details convert.Details
}

var _ convert.Context = (*scaleContext)(nil)

func newScaleContext(
	ctx context.Context,
	params convert.Params,
	details convert.Details,
) (convert.Context, error) {
	sws, err := astiav.CreateSoftwareScaleContext(
		params.SrcWidth, params.SrcHeight, params.SrcPixelFormat,
		params.DstWidth, params.DstHeight, params.DstPixelFormat,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBicubic),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create a software scale context: %w", err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(params.DstWidth)
	dst.SetHeight(params.DstHeight)
	dst.SetPixelFormat(params.DstPixelFormat)
	if details.ColorAware {
		dst.SetColorSpace(details.ColorSpace)
		dst.SetColorRange(details.DstRange)
	}
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		sws.Free()
		return nil, fmt.Errorf("unable to allocate the destination frame buffer: %w", err)
	}

	return &scaleContext{
		sws:     sws,
		dst:     dst,
		details: details,
	}, nil
}

func (c *scaleContext) render(
	ctx context.Context,
	src *astiav.Frame,
	dst []byte,
) error {
	if c.details.ColorAware {
		// The frame-level scale API picks up the matrix and ranges from the
		// frames themselves.
		src.SetColorSpace(c.details.ColorSpace)
		src.SetColorRange(c.details.SrcRange)
	}
	if err := c.sws.ScaleFrame(src, c.dst); err != nil {
		return fmt.Errorf("unable to scale a frame: %w", err)
	}
	if _, err := c.dst.ImageCopyToBuffer(dst, 1); err != nil {
		return fmt.Errorf("unable to copy the scaled frame out: %w", err)
	}
	return nil
}

func (c *scaleContext) Close() {
	if c.dst != nil {
		c.dst.Free()
		c.dst = nil
	}
	if c.sws != nil {
		c.sws.Free()
		c.sws = nil
	}
}
