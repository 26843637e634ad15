package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/framereader"
	"github.com/xaionaro-go/framereader/convert"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <input-media> <frame> <output.png>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	nearest := pflag.Bool("nearest", false, "clamp out-of-range frame requests to the nearest valid frame")
	retries := pflag.Int("retries", 2, "how many times to retry after a detected decode stall")
	threads := pflag.Int("threads", 0, "decoding thread count (0 = one per CPU, capped)")
	matrix := pflag.String("color-matrix", "auto", "YUV to RGB matrix: auto, bt601 or bt709")
	pflag.Parse()
	if len(pflag.Args()) != 3 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	inputPath := pflag.Arg(0)
	frame, err := strconv.ParseInt(pflag.Arg(1), 10, 64)
	if err != nil {
		l.Fatalf("unable to parse '%s' as a frame index: %v", pflag.Arg(1), err)
	}
	outputPath := pflag.Arg(2)

	astiav.SetLogLevel(framereader.LogLevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, fmt, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		l.Logf(
			framereader.LogLevelFromAstiav(level),
			"%s%s",
			strings.TrimSpace(msg), cs,
		)
	})

	if framereader.IsImageFile(inputPath) {
		l.Warnf("'%s' looks like a still image, not a movie", inputPath)
	}

	l.Debugf("opening '%s'...", inputPath)
	f, err := framereader.Open(ctx, inputPath, framereader.OpenOptions{
		DecodingThreads: *threads,
	})
	if err != nil {
		l.Fatal(err)
	}
	defer func() {
		if err := f.Close(ctx); err != nil {
			l.Errorf("unable to close '%s': %v", inputPath, err)
		}
	}()

	switch strings.ToLower(*matrix) {
	case "auto":
	case "bt601":
		f.SetColorMatrixOverride(ctx, convert.MatrixBT601)
	case "bt709":
		f.SetColorMatrixOverride(ctx, convert.MatrixBT709)
	default:
		l.Fatalf("unknown color matrix '%s'", *matrix)
	}

	width, height, aspect, frames, ok := f.GetInfo(ctx)
	if !ok {
		l.Fatalf("no video stream info available")
	}
	fps, _ := f.GetFrameRate(ctx)
	l.Infof("%dx%d, aspect %v, %d frames, %v fps, colorspace %s", width, height, aspect, frames, fps, f.Colorspace(ctx))

	if err := f.Decode(ctx, frame, *nearest, *retries); err != nil {
		l.Fatalf("unable to decode frame %d: %v (%s)", frame, err, f.GetError(ctx))
	}

	img := toImage(f.Data(ctx), width, height, f.GetRowSize(ctx))
	out, err := os.Create(outputPath)
	if err != nil {
		l.Fatal(err)
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		l.Fatal(err)
	}
	l.Infof("wrote frame %d to '%s'", frame, outputPath)
}

// toImage wraps the decoder's packed output buffer into an image. The
// buffer layout is rows of width samples with no padding; the channel
// count and sample width follow from the row size.
func toImage(data []byte, width, height, rowSize int) image.Image {
	bytesPerPixel := rowSize / width
	switch bytesPerPixel {
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				p := data[y*rowSize+x*3:]
				img.SetNRGBA(x, y, color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xff})
			}
		}
		return img
	case 4:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(img.Pix[y*img.Stride:], data[y*rowSize:y*rowSize+rowSize])
		}
		return img
	case 6:
		img := image.NewNRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				p := data[y*rowSize+x*6:]
				img.SetNRGBA64(x, y, color.NRGBA64{
					R: binary.LittleEndian.Uint16(p[0:]),
					G: binary.LittleEndian.Uint16(p[2:]),
					B: binary.LittleEndian.Uint16(p[4:]),
					A: 0xffff,
				})
			}
		}
		return img
	case 8:
		img := image.NewNRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				p := data[y*rowSize+x*8:]
				img.SetNRGBA64(x, y, color.NRGBA64{
					R: binary.LittleEndian.Uint16(p[0:]),
					G: binary.LittleEndian.Uint16(p[2:]),
					B: binary.LittleEndian.Uint16(p[4:]),
					A: binary.LittleEndian.Uint16(p[6:]),
				})
			}
		}
		return img
	}
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}
