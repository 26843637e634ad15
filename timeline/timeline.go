// Package timeline establishes the start timestamp and total frame count of
// a video stream at open time. Containers are inconsistent about where they
// record timing, so the frame count is resolved through a cascade of
// strategies ordered from cheap metadata reads to a full tail scan.
package timeline

import (
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/framereader/logger"

	"github.com/xaionaro-go/framereader/timing"
)

// probeTailFrame is the frame index targeted by the tail-scan seek. It only
// needs to be far enough past the end of any realistic file; the backward
// seek semantics land the read position at or before it.
const probeTailFrame = 1 << 29

// PacketInfo is the subset of a demuxed packet the timeline probing needs.
type PacketInfo struct {
	StreamIndex int
	Timestamps  timing.Timestamps
}

// PacketScanner provides packet-level access to the container for probing.
// ReadPacketInfo returns io.EOF once the container is exhausted.
type PacketScanner interface {
	SeekBackward(ctx context.Context, timestamp int64) error
	ReadPacketInfo(ctx context.Context) (PacketInfo, error)
}

// Metadata is the container- and stream-declared timing information the
// cascade works from. Absent values are zero, except StreamStartTimestamp
// which uses timing.NoTimestamp.
type Metadata struct {
	StreamIndex          int
	StreamStartTimestamp int64
	ContainerDuration    int64 // in astiav.TimeBase units
	DeclaredFrameCount   int64
	StreamDuration       int64 // in stream time base ticks
	TimeBase             astiav.Rational
	FPS                  astiav.Rational
}

// ResolveStartTimestamp returns the stream's start timestamp, preferring the
// container-declared value and otherwise scanning packets from the beginning
// until the stream shows a valid PTS. A stream with no timestamps at all
// starts at zero.
func ResolveStartTimestamp(
	ctx context.Context,
	md Metadata,
	scanner PacketScanner,
) int64 {
	if md.StreamStartTimestamp != timing.NoTimestamp {
		logger.Debugf(ctx, "start timestamp declared by the stream: %d", md.StreamStartTimestamp)
		return md.StreamStartTimestamp
	}

	logger.Debugf(ctx, "start timestamp is not declared, scanning packets")
	startTS := int64(timing.NoTimestamp)
	if err := scanner.SeekBackward(ctx, 0); err != nil {
		logger.Errorf(ctx, "unable to seek to the beginning: %v", err)
	} else {
		for startTS == timing.NoTimestamp {
			pkt, err := scanner.ReadPacketInfo(ctx)
			if err != nil {
				logger.Debugf(ctx, "scan for the start timestamp ended: %v", err)
				break
			}
			if pkt.StreamIndex != md.StreamIndex {
				continue
			}
			startTS = pkt.Timestamps.PTS
		}
	}

	if startTS == timing.NoTimestamp {
		logger.Warnf(ctx, "no valid start timestamp found, assuming 0")
		startTS = 0
	}
	return startTS
}

// FramesFromContainerDuration derives the frame count from the container's
// global duration. The container duration is stored rounded to
// astiav.TimeBase units with an unknown rounding direction, so one unit is
// subtracted before rounding up; this yields the exact count whenever the
// true duration was a whole number of frames. Millisecond-resolution muxers
// may still overshoot by a single frame, so a stream-declared count within 1
// of the result wins the tie. Returns 0 when the container declares no
// duration.
func FramesFromContainerDuration(md Metadata) int64 {
	if md.ContainerDuration == 0 {
		return 0
	}
	divisor := int64(astiav.TimeBase) * int64(md.FPS.Den())
	frames := ((md.ContainerDuration-1)*int64(md.FPS.Num()) + divisor - 1) / divisor
	if md.DeclaredFrameCount > 0 {
		diff := frames - md.DeclaredFrameCount
		if diff >= -1 && diff <= 1 {
			frames = md.DeclaredFrameCount
		}
	}
	return frames
}

// FramesFromDeclaredCount returns the stream-declared frame count, or 0 when
// the stream declares none.
func FramesFromDeclaredCount(md Metadata) int64 {
	return md.DeclaredFrameCount
}

// FramesFromStreamDuration derives the frame count from the stream's own
// duration in its own time base. Returns 0 when it cannot.
func FramesFromStreamDuration(md Metadata) int64 {
	if md.StreamDuration <= 0 {
		return 0
	}
	return md.StreamDuration * int64(md.TimeBase.Num()) * int64(md.FPS.Num()) /
		(int64(md.TimeBase.Den()) * int64(md.FPS.Den()))
}

// FramesFromScan measures the frame count by seeking near the end of the
// container and reading every remaining packet of the stream, tracking the
// maximum timestamp seen. Both the start and the maximum timestamp mark
// frame starts, so the stream extends one frame past the maximum.
func FramesFromScan(
	ctx context.Context,
	md Metadata,
	loc timing.Locator,
	scanner PacketScanner,
) (int64, error) {
	if err := scanner.SeekBackward(ctx, loc.FrameToTimestamp(probeTailFrame)); err != nil {
		return 0, err
	}

	maxTS := loc.StartTimestamp
	for {
		pkt, err := scanner.ReadPacketInfo(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		if pkt.StreamIndex != md.StreamIndex {
			continue
		}
		if ts := pkt.Timestamps.PTS; ts != timing.NoTimestamp && ts > maxTS {
			maxTS = ts
		}
	}

	logger.Debugf(ctx, "tail scan: start timestamp %d, max timestamp %d", loc.StartTimestamp, maxTS)
	return loc.TimestampToFrame(maxTS) + 1, nil
}

// ResolveFrameCount composes the cascade: container duration, then the
// stream-declared count, then the stream duration, then the tail scan.
// Each tier runs only when every cheaper tier yielded nothing.
func ResolveFrameCount(
	ctx context.Context,
	md Metadata,
	loc timing.Locator,
	scanner PacketScanner,
) (int64, error) {
	if frames := FramesFromContainerDuration(md); frames != 0 {
		logger.Debugf(ctx, "frame count from the container duration: %d", frames)
		return frames, nil
	}
	if frames := FramesFromDeclaredCount(md); frames != 0 {
		logger.Debugf(ctx, "frame count declared by the stream: %d", frames)
		return frames, nil
	}
	if frames := FramesFromStreamDuration(md); frames != 0 {
		logger.Debugf(ctx, "frame count from the stream duration: %d", frames)
		return frames, nil
	}
	frames, err := FramesFromScan(ctx, md, loc, scanner)
	if err != nil {
		return 0, err
	}
	logger.Debugf(ctx, "frame count from the tail scan: %d", frames)
	return frames, nil
}
