package framereader

import (
	"context"
	"image"
	"io"
	"sort"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/framereader/helpers/closuresignaler"
	"github.com/xaionaro-go/framereader/timing"
)

// fakeBackend simulates a single-video-stream container and a latency
// bearing decoder, so the decode session can be exercised without media
// files.
type fakeBackend struct {
	loc         timing.Locator
	streamIndex int
	packets     int64   // packets actually present in the container
	keyframes   []int64 // valid decode start frames, must include 0 unless testing otherwise
	falseKeys   map[int64]bool
	delay       int  // decoder reorder latency in packets
	noPTS       bool // the stream never carries a PTS (DTS only)
	dieAfter    int64
	overshoot   map[int64]int64 // seek target frame -> forced landing frame

	pos      int64 // next frame to read
	lastRead int64
	started  bool
	queue    []int64
	current  int64 // most recently output frame

	seeks   []int64 // landing frames of every seek issued
	renders []renderRecord
	closes  int
}

type renderRecord struct {
	frame  int64
	params convert.Params
}

func newFakeBackend(frames int64, keyframes ...int64) *fakeBackend {
	if len(keyframes) == 0 {
		keyframes = []int64{0}
	}
	return &fakeBackend{
		loc: timing.Locator{
			StartTimestamp: 0,
			FPS:            astiav.NewRational(25, 1),
			TimeBase:       astiav.NewRational(1, 90000),
		},
		packets:   frames,
		keyframes: keyframes,
		falseKeys: map[int64]bool{},
		dieAfter:  -1,
	}
}

func (b *fakeBackend) stream() *Stream {
	s := newStream(b.streamIndex)
	s.Width = 64
	s.Height = 48
	s.PixelFormat = astiav.PixelFormatYuv420P
	s.OutputPixelFormat = astiav.PixelFormatRgb24
	s.BitDepth = 8
	s.Components = 3
	s.Aspect = 1
	s.FPS = b.loc.FPS
	s.TimeBase = b.loc.TimeBase
	s.StartTimestamp = b.loc.StartTimestamp
	s.TotalFrames = b.packets
	return s
}

func (b *fakeBackend) file() *File {
	f := &File{backend: b, stream: b.stream(), closedAt: closuresignaler.New()}
	f.data = make([]byte, f.stream.bufferSize())
	return f
}

func (b *fakeBackend) ReadPacket(ctx context.Context) (packetInfo, error) {
	if b.pos >= b.packets {
		return packetInfo{}, io.EOF
	}
	b.lastRead = b.pos
	b.pos++
	ts := b.loc.FrameToTimestamp(b.lastRead)
	info := packetInfo{
		StreamIndex: b.streamIndex,
		Timestamps:  timing.Timestamps{PTS: ts, DTS: ts},
	}
	if b.noPTS {
		info.Timestamps.PTS = timing.NoTimestamp
	}
	return info, nil
}

func (b *fakeBackend) DiscardPacket(ctx context.Context) {}

func (b *fakeBackend) DecodePacket(ctx context.Context) (bool, error) {
	f := b.lastRead
	if !b.started {
		if b.isKeyframe(f) && !b.falseKeys[f] {
			b.started = true
		}
	}
	if !b.started {
		return false, nil
	}
	if b.dieAfter >= 0 && f > b.dieAfter {
		// The decoder silently swallows everything past this point.
		return false, nil
	}
	b.queue = append(b.queue, f)
	if len(b.queue) <= b.delay {
		return false, nil
	}
	return b.pop(), nil
}

func (b *fakeBackend) DrainStep(ctx context.Context) (bool, error) {
	if len(b.queue) == 0 {
		return false, nil
	}
	return b.pop(), nil
}

func (b *fakeBackend) pop() bool {
	b.current = b.queue[0]
	b.queue = b.queue[1:]
	return true
}

func (b *fakeBackend) Seek(ctx context.Context, timestamp int64) error {
	target := b.loc.TimestampToFrame(timestamp)
	landing, ok := b.overshoot[target]
	if !ok {
		landing = b.landingFor(target)
	}
	b.pos = landing
	b.started = false
	b.queue = nil
	b.seeks = append(b.seeks, landing)
	return nil
}

// landingFor picks the greatest keyframe at or before the target, the way
// a backward-biased container seek does.
func (b *fakeBackend) landingFor(target int64) int64 {
	keys := append([]int64(nil), b.keyframes...)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	landing := keys[0]
	for _, k := range keys {
		if k <= target {
			landing = k
		}
	}
	return landing
}

func (b *fakeBackend) isKeyframe(frame int64) bool {
	for _, k := range b.keyframes {
		if k == frame {
			return true
		}
	}
	return false
}

func (b *fakeBackend) ReorderDelay() int {
	return b.delay
}

func (b *fakeBackend) SourceColorRange() astiav.ColorRange {
	return astiav.ColorRangeUnspecified
}

func (b *fakeBackend) Render(ctx context.Context, params convert.Params, dst []byte) error {
	b.renders = append(b.renders, renderRecord{frame: b.current, params: params})
	for i := range dst {
		dst[i] = byte(b.current)
	}
	return nil
}

func (b *fakeBackend) Close(ctx context.Context) error {
	b.closes++
	return nil
}

// renderThroughScaleContext pushes one synthetic YUV frame through the real
// software scale path with the given conversion parameters.
func renderThroughScaleContext(t *testing.T, params convert.Params) []byte {
	t.Helper()
	ctx := context.Background()

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetWidth(params.SrcWidth)
	src.SetHeight(params.SrcHeight)
	src.SetPixelFormat(params.SrcPixelFormat)
	require.NoError(t, src.AllocBuffer(1))

	img := image.NewYCbCr(image.Rect(0, 0, params.SrcWidth, params.SrcHeight), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 120
	}
	for i := range img.Cb {
		img.Cb[i] = 150
	}
	for i := range img.Cr {
		img.Cr[i] = 180
	}
	require.NoError(t, src.Data().FromImage(img))

	sc, err := newScaleContext(ctx, params, convert.ResolveDetails(params))
	require.NoError(t, err)
	defer sc.Close()

	dst := make([]byte, params.DstWidth*params.DstHeight*3)
	require.NoError(t, sc.(*scaleContext).render(ctx, src, dst))
	return dst
}

func TestScaleContextMatrixChangesOutput(t *testing.T) {
	params := convert.Params{
		SrcPixelFormat: astiav.PixelFormatYuv420P,
		SrcWidth:       16,
		SrcHeight:      16,
		SrcColorRange:  astiav.ColorRangeUnspecified,
		DstPixelFormat: astiav.PixelFormatRgb24,
		DstWidth:       16,
		DstHeight:      16,
	}

	bt601 := renderThroughScaleContext(t, params)

	params.MatrixOverride = convert.MatrixBT709
	bt709 := renderThroughScaleContext(t, params)

	// The sample is reddish in either matrix but the exact values differ.
	require.Greater(t, bt601[0], bt601[1])
	require.Greater(t, bt709[0], bt709[1])
	require.NotEqual(t, bt601, bt709)
}
