package convert

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	params Params
	closed bool
}

func (c *fakeContext) Close() {
	c.closed = true
}

func fakeFactory(built *[]*fakeContext) Factory {
	return func(ctx context.Context, params Params, details Details) (Context, error) {
		fc := &fakeContext{params: params}
		*built = append(*built, fc)
		return fc, nil
	}
}

func yuvParams() Params {
	return Params{
		SrcPixelFormat: astiav.PixelFormatYuv420P,
		SrcWidth:       1920,
		SrcHeight:      1080,
		SrcColorRange:  astiav.ColorRangeUnspecified,
		DstPixelFormat: astiav.PixelFormatRgb24,
		DstWidth:       1920,
		DstHeight:      1080,
	}
}

func TestResolveDetailsRGBPassThrough(t *testing.T) {
	d := ResolveDetails(Params{
		SrcPixelFormat: astiav.PixelFormatRgb24,
		DstPixelFormat: astiav.PixelFormatRgba,
	})
	require.False(t, d.ColorAware)
}

func TestResolveDetailsMatrixSelection(t *testing.T) {
	p := yuvParams()
	require.Equal(t, astiav.ColorSpaceBt470Bg, ResolveDetails(p).ColorSpace)

	p.Rec709 = true
	require.Equal(t, astiav.ColorSpaceBt709, ResolveDetails(p).ColorSpace)

	p.MatrixOverride = MatrixBT601
	require.Equal(t, astiav.ColorSpaceBt470Bg, ResolveDetails(p).ColorSpace)

	p.Rec709 = false
	p.MatrixOverride = MatrixBT709
	require.Equal(t, astiav.ColorSpaceBt709, ResolveDetails(p).ColorSpace)
}

func TestResolveDetailsRangeSelection(t *testing.T) {
	p := yuvParams()

	d := ResolveDetails(p)
	require.Equal(t, astiav.ColorRangeMpeg, d.SrcRange)
	require.Equal(t, astiav.ColorRangeJpeg, d.DstRange)

	p.SrcColorRange = astiav.ColorRangeJpeg
	require.Equal(t, astiav.ColorRangeJpeg, ResolveDetails(p).SrcRange)

	// Non-YUV source converted into YUV defaults to full range.
	p.SrcColorRange = astiav.ColorRangeUnspecified
	p.SrcPixelFormat = astiav.PixelFormatRgb24
	p.DstPixelFormat = astiav.PixelFormatYuv420P
	require.Equal(t, astiav.ColorRangeJpeg, ResolveDetails(p).SrcRange)
}

func TestCacheReusesContext(t *testing.T) {
	ctx := context.Background()
	var built []*fakeContext
	cache := NewCache(fakeFactory(&built))

	p := yuvParams()
	first, err := cache.Get(ctx, p)
	require.NoError(t, err)
	second, err := cache.Get(ctx, p)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, uint(1), cache.Rebuilds())
}

func TestCacheRebuildsOnParamChange(t *testing.T) {
	ctx := context.Background()
	var built []*fakeContext
	cache := NewCache(fakeFactory(&built))

	p := yuvParams()
	_, err := cache.Get(ctx, p)
	require.NoError(t, err)

	p.SrcWidth, p.SrcHeight = 1280, 720
	_, err = cache.Get(ctx, p)
	require.NoError(t, err)
	require.Equal(t, uint(2), cache.Rebuilds())
	require.True(t, built[0].closed)
	require.False(t, built[1].closed)
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	var built []*fakeContext
	cache := NewCache(fakeFactory(&built))

	p := yuvParams()
	_, err := cache.Get(ctx, p)
	require.NoError(t, err)

	cache.Invalidate()
	_, err = cache.Get(ctx, p)
	require.NoError(t, err)
	require.Equal(t, uint(2), cache.Rebuilds())
	require.True(t, built[0].closed)
}

func TestCacheNormalizesDeprecatedFormats(t *testing.T) {
	ctx := context.Background()
	var built []*fakeContext
	cache := NewCache(fakeFactory(&built))

	p := yuvParams()
	p.SrcPixelFormat = astiav.PixelFormatYuvj420P
	_, err := cache.Get(ctx, p)
	require.NoError(t, err)
	require.Equal(t, astiav.PixelFormatYuv420P, built[0].params.SrcPixelFormat)

	// The cache key is the caller's parameters, so the normalized request
	// still hits the cache.
	_, err = cache.Get(ctx, p)
	require.NoError(t, err)
	require.Equal(t, uint(1), cache.Rebuilds())
}

func TestCacheClose(t *testing.T) {
	ctx := context.Background()
	var built []*fakeContext
	cache := NewCache(fakeFactory(&built))

	_, err := cache.Get(ctx, yuvParams())
	require.NoError(t, err)
	cache.Close()
	require.True(t, built[0].closed)
}
