// Package convert chooses and caches the pixel conversion parameters used
// to turn decoded frames into the caller's output layout.
package convert

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/framereader/logger"

	"github.com/xaionaro-go/framereader/pixfmt"
)

// ColorMatrix is the user-facing override for the YUV to RGB conversion
// matrix. MatrixAuto leaves the choice to the stream's own properties.
type ColorMatrix int

const (
	MatrixAuto ColorMatrix = iota
	MatrixBT709
	MatrixBT601
)

func (m ColorMatrix) String() string {
	switch m {
	case MatrixAuto:
		return "auto"
	case MatrixBT709:
		return "BT.709"
	case MatrixBT601:
		return "BT.601"
	}
	return fmt.Sprintf("ColorMatrix(%d)", int(m))
}

// Params is the cache key of a conversion context.
type Params struct {
	SrcPixelFormat astiav.PixelFormat
	SrcWidth       int
	SrcHeight      int
	SrcColorRange  astiav.ColorRange
	DstPixelFormat astiav.PixelFormat
	DstWidth       int
	DstHeight      int

	Rec709         bool
	MatrixOverride ColorMatrix
}

// Details is the resolved color handling for one conversion context. When
// ColorAware is false the conversion stays within the RGB family and no
// colorspace parameters apply.
type Details struct {
	ColorAware bool
	ColorSpace astiav.ColorSpace
	SrcRange   astiav.ColorRange
	DstRange   astiav.ColorRange
}

// ResolveDetails turns Params into the concrete colorspace decision:
// BT.709 for streams flagged as Rec.709 and BT.601 otherwise, unless the
// override forces one; the source range follows what the codec reported,
// falling back to studio range for YUV data and full range for the rest.
// The destination is always full range.
func ResolveDetails(p Params) Details {
	if !pixfmt.IsYUV(p.SrcPixelFormat) && !pixfmt.IsYUV(p.DstPixelFormat) {
		return Details{}
	}

	colorSpace := astiav.ColorSpaceBt470Bg
	if p.Rec709 {
		colorSpace = astiav.ColorSpaceBt709
	}
	switch p.MatrixOverride {
	case MatrixBT709:
		colorSpace = astiav.ColorSpaceBt709
	case MatrixBT601:
		colorSpace = astiav.ColorSpaceBt470Bg
	}

	srcRange := p.SrcColorRange
	if srcRange != astiav.ColorRangeMpeg && srcRange != astiav.ColorRangeJpeg {
		if pixfmt.IsYUV(p.SrcPixelFormat) {
			srcRange = astiav.ColorRangeMpeg
		} else {
			srcRange = astiav.ColorRangeJpeg
		}
	}

	return Details{
		ColorAware: true,
		ColorSpace: colorSpace,
		SrcRange:   srcRange,
		DstRange:   astiav.ColorRangeJpeg,
	}
}

// Context is one constructed conversion context.
type Context interface {
	Close()
}

// Factory constructs a Context for the given parameters. The source pixel
// format it receives is already normalized.
type Factory func(ctx context.Context, params Params, details Details) (Context, error)

// Cache holds at most one conversion context, rebuilt when the parameters
// change or an explicit invalidation was requested.
type Cache struct {
	factory  Factory
	current  Context
	key      Params
	stale    bool
	rebuilds uint
}

func NewCache(factory Factory) *Cache {
	return &Cache{factory: factory}
}

// Invalidate flags the cached context for release before the next Get.
func (c *Cache) Invalidate() {
	c.stale = true
}

// Rebuilds reports how many contexts this cache has constructed.
func (c *Cache) Rebuilds() uint {
	return c.rebuilds
}

// Get returns a conversion context for the given parameters, reusing the
// cached one when the parameters are unchanged. Deprecated full-range
// source formats are normalized to their plain equivalents before the
// context is constructed.
func (c *Cache) Get(ctx context.Context, params Params) (Context, error) {
	if c.stale {
		c.stale = false
		c.release()
	}
	if c.current != nil && params == c.key {
		return c.current, nil
	}
	c.release()

	normalized := params
	normalized.SrcPixelFormat = pixfmt.Normalize(params.SrcPixelFormat)
	details := ResolveDetails(normalized)
	logger.Debugf(ctx, "building a conversion context: %dx%d %v -> %dx%d %v (color aware: %v)",
		normalized.SrcWidth, normalized.SrcHeight, normalized.SrcPixelFormat,
		normalized.DstWidth, normalized.DstHeight, normalized.DstPixelFormat,
		details.ColorAware,
	)

	converter, err := c.factory(ctx, normalized, details)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a conversion context: %w", err)
	}
	c.current = converter
	c.key = params
	c.rebuilds++
	return converter, nil
}

// Close releases the cached context, if any.
func (c *Cache) Close() {
	c.release()
}

func (c *Cache) release() {
	if c.current == nil {
		return
	}
	c.current.Close()
	c.current = nil
}
