package framereader

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestBufferSizesBeforeOpen(t *testing.T) {
	ctx := context.Background()
	f := &File{}
	require.Equal(t, 0, f.GetRowSize(ctx))
	require.Equal(t, 0, f.GetBufferSize(ctx))
	_, _, _, _, ok := f.GetInfo(ctx)
	require.False(t, ok)
	_, ok = f.GetFrameRate(ctx)
	require.False(t, ok)
}

func TestBufferSizes8Bit(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(10).file()
	require.Equal(t, 3*64, f.GetRowSize(ctx))
	require.Equal(t, 3*64*48, f.GetBufferSize(ctx))
}

func TestBufferSizes16Bit(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(10).file()
	f.stream.BitDepth = 10
	require.Equal(t, 3*64*2, f.GetRowSize(ctx))
	require.Equal(t, 3*64*2*48, f.GetBufferSize(ctx))
}

func TestGetInfo(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(10).file()
	width, height, aspect, frames, ok := f.GetInfo(ctx)
	require.True(t, ok)
	require.Equal(t, 64, width)
	require.Equal(t, 48, height)
	require.Equal(t, float64(1), aspect)
	require.Equal(t, int64(10), frames)

	fps, ok := f.GetFrameRate(ctx)
	require.True(t, ok)
	require.Equal(t, astiav.NewRational(25, 1), fps)
}

func TestColorspace(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(10).file()
	require.Equal(t, "Gamma2.2", f.Colorspace(ctx))

	f.stream.PixelFormat = astiav.PixelFormatRgb24
	require.Equal(t, "Gamma1.8", f.Colorspace(ctx))
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend(10)
	f := b.file()
	require.NoError(t, f.Close(ctx))
	require.NoError(t, f.Close(ctx))
	require.Equal(t, 1, b.closes)

	err := f.Decode(ctx, 0, false, 0)
	require.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	require.True(t, IsImageFile("/some/dir/picture.PNG"))
	require.True(t, IsImageFile("frame.dpx"))
	require.True(t, IsImageFile("a.b.c.jpeg"))
	require.False(t, IsImageFile("movie.mov"))
	require.False(t, IsImageFile("noextension"))
	require.False(t, IsImageFile("trailingdot."))
}
