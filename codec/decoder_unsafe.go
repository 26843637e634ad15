package codec

/*
#cgo pkg-config: libavcodec
#include <libavcodec/avcodec.h>
*/
import "C"

import (
	"unsafe"

	"github.com/asticode/go-astiav"
	xastiav "github.com/xaionaro-go/avcommon/astiav"
)

// go-astiav exposes neither has_b_frames nor bits_per_raw_sample, so we
// read them from the raw AVCodecContext.
func unsafeRawCodecContext(codecContext *astiav.CodecContext) *C.AVCodecContext {
	return (*C.AVCodecContext)(unsafe.Pointer(xastiav.CFromAVCodecContext(codecContext)))
}

// unsafeHasBFrames is the size of the frame reordering buffer the codec
// currently needs. It starts at the value declared by the stream and can
// grow while decoding.
func unsafeHasBFrames(codecContext *astiav.CodecContext) int {
	return int(unsafeRawCodecContext(codecContext).has_b_frames)
}

func unsafeBitsPerRawSample(codecContext *astiav.CodecContext) int {
	return int(unsafeRawCodecContext(codecContext).bits_per_raw_sample)
}
