// Package pixfmt describes the properties of the decoded pixel formats the
// reader accepts, and selects the output pixel layout for a stream.
package pixfmt

import (
	"github.com/asticode/go-astiav"
)

// Traits are the properties of one pixel format that matter for choosing an
// output layout and conversion parameters.
type Traits struct {
	Components int
	BitDepth   int
	YUV        bool
}

var traits = map[astiav.PixelFormat]Traits{
	astiav.PixelFormatYuv420P:  {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuv422P:  {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuv440P:  {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuv444P:  {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuvj420P: {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuvj422P: {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuvj440P: {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuvj444P: {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatYuva420P: {Components: 4, BitDepth: 8, YUV: true},
	astiav.PixelFormatNv12:     {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatNv21:     {Components: 3, BitDepth: 8, YUV: true},
	astiav.PixelFormatGray8:    {Components: 1, BitDepth: 8},
	astiav.PixelFormatGray16Le: {Components: 1, BitDepth: 16},
	astiav.PixelFormatRgb24:    {Components: 3, BitDepth: 8},
	astiav.PixelFormatBgr24:    {Components: 3, BitDepth: 8},
	astiav.PixelFormatRgba:     {Components: 4, BitDepth: 8},
	astiav.PixelFormatBgra:     {Components: 4, BitDepth: 8},
	astiav.PixelFormatArgb:     {Components: 4, BitDepth: 8},
	astiav.PixelFormatAbgr:     {Components: 4, BitDepth: 8},
	astiav.PixelFormatRgb48Le:  {Components: 3, BitDepth: 16},
	astiav.PixelFormatRgba64Le: {Components: 4, BitDepth: 16},
}

// Lookup returns the traits of the given pixel format, if it is one the
// reader knows about.
func Lookup(pf astiav.PixelFormat) (Traits, bool) {
	t, ok := traits[pf]
	return t, ok
}

// IsYUV reports whether the pixel format stores YCbCr samples. Conversions
// between two non-YUV formats need no colorspace coefficients at all.
func IsYUV(pf astiav.PixelFormat) bool {
	return traits[pf].YUV
}

// Normalize maps the deprecated full-range-labelled YUV formats onto their
// plain equivalents. Some decoders still report the J-variants even though
// the range intent is carried separately in the color-range field.
func Normalize(pf astiav.PixelFormat) astiav.PixelFormat {
	switch pf {
	case astiav.PixelFormatYuvj420P:
		return astiav.PixelFormatYuv420P
	case astiav.PixelFormatYuvj422P:
		return astiav.PixelFormatYuv422P
	case astiav.PixelFormatYuvj440P:
		return astiav.PixelFormatYuv440P
	case astiav.PixelFormatYuvj444P:
		return astiav.PixelFormatYuv444P
	}
	return pf
}

// OutputComponents returns the channel count of the output layout for a
// source with the given number of components: monochrome sources are
// promoted to 3 channels, and 4 channels are used only when the source
// already carries 4.
func OutputComponents(srcComponents int) int {
	if srcComponents < 3 {
		return 3
	}
	if srcComponents > 4 {
		return 4
	}
	return srcComponents
}

// OutputFormatFor selects the packed RGB output format for the given bit
// depth and (already promoted) channel count.
func OutputFormatFor(bitDepth int, components int) astiav.PixelFormat {
	if bitDepth > 8 {
		if components == 4 {
			return astiav.PixelFormatRgba64Le
		}
		return astiav.PixelFormatRgb48Le
	}
	if components == 4 {
		return astiav.PixelFormatRgba
	}
	return astiav.PixelFormatRgb24
}

// BytesPerSample returns the width of one sample of the output layout.
func BytesPerSample(bitDepth int) int {
	if bitDepth > 8 {
		return 2
	}
	return 1
}
