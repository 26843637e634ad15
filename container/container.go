// Package container opens a media file for demuxing and exposes the
// packet-level operations the decode pipeline needs: sequential reads and
// backward-biased seeks on one stream.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/framereader/logger"
)

type Input struct {
	*astiav.FormatContext

	URL    string
	closer *astikit.Closer
}

// Open probes the file at the given path and prepares it for reading.
func Open(
	ctx context.Context,
	path string,
) (_ret *Input, _err error) {
	logger.Debugf(ctx, "Open(ctx, '%s')", path)
	defer func() { logger.Debugf(ctx, "/Open(ctx, '%s'): %v %v", path, _ret, _err) }()

	i := &Input{
		URL:    path,
		closer: astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			if err := i.closer.Close(); err != nil {
				logger.Errorf(ctx, "unable to close the input: %v", err)
			}
		}
	}()

	i.FormatContext = astiav.AllocFormatContext()
	if i.FormatContext == nil {
		return nil, fmt.Errorf("unable to allocate a format context")
	}
	i.closer.Add(i.FormatContext.Free)

	if err := i.FormatContext.OpenInput(path, nil, nil); err != nil {
		return nil, fmt.Errorf("unable to open input by path '%s': %w", path, err)
	}
	i.closer.Add(i.FormatContext.CloseInput)

	if err := i.FormatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to get stream info: %w", err)
	}

	return i, nil
}

// ReadIntoPacket reads the next packet of any stream into the provided
// scratch packet. The end of the container is reported as io.EOF.
func (i *Input) ReadIntoPacket(
	_ context.Context,
	packet *astiav.Packet,
) error {
	err := i.FormatContext.ReadFrame(packet)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	case errors.Is(err, astiav.ErrEio):
		return io.EOF
	default:
		return fmt.Errorf("unable to read a frame: %T:%w", err, err)
	}
}

// SeekBackward repositions the demuxer at or before the given timestamp of
// the given stream.
func (i *Input) SeekBackward(
	ctx context.Context,
	streamIndex int,
	timestamp int64,
) error {
	logger.Tracef(ctx, "SeekBackward(ctx, %d, %d)", streamIndex, timestamp)
	if err := i.FormatContext.SeekFrame(streamIndex, timestamp, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("unable to seek stream %d to timestamp %d: %w", streamIndex, timestamp, err)
	}
	return nil
}

func (i *Input) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close(ctx): '%s'", i.URL)
	return i.closer.Close()
}
