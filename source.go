package avcore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
)

// source wraps an opened astiav format context together with the two
// elementary streams avcore cares about (spec.md only ever tracks "the
// audio stream" and "the video stream" singular, per §2's scope note).
// Subtitle and data streams are never selected.
//
// videoStream/audioStream/videoCodecCtx/audioCodecCtx are guarded by mu
// because CycleChannel (player.go) swaps them from whichever goroutine
// calls it while the demuxer and decoder goroutines read them concurrently.
type source struct {
	ctx       context.Context
	formatCtx *astiav.FormatContext

	mu            sync.RWMutex
	videoStream   *astiav.Stream
	audioStream   *astiav.Stream
	videoCodecCtx *astiav.CodecContext
	audioCodecCtx *astiav.CodecContext

	realtime         bool
	byteLength       int64
	maxFrameDuration float64 // max_frame_duration: 10s discontinuous containers, else 3600s
}

func (s *source) VideoStream() *astiav.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoStream
}

func (s *source) AudioStream() *astiav.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioStream
}

func (s *source) VideoCodecContext() *astiav.CodecContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoCodecCtx
}

func (s *source) AudioCodecContext() *astiav.CodecContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioCodecCtx
}

// MaxFrameDuration returns max_frame_duration (spec.md §4.6), fixed once at
// open time from the input format's AVFMT_TS_DISCONT flag.
func (s *source) MaxFrameDuration() float64 {
	return s.maxFrameDuration
}

// SwitchVideoStream installs a freshly opened codec context for a different
// video stream, freeing the one it replaces (ff_player_cycle_channel's
// stream_close-then-stream_open, collapsed to a single in-place swap since
// this package only ever tracks one active stream per media type).
func (s *source) SwitchVideoStream(stream *astiav.Stream, codecCtx *astiav.CodecContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoCodecCtx != nil {
		s.videoCodecCtx.Free()
	}
	s.videoStream = stream
	s.videoCodecCtx = codecCtx
}

// SwitchAudioStream is SwitchVideoStream's audio counterpart.
func (s *source) SwitchAudioStream(stream *astiav.Stream, codecCtx *astiav.CodecContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioCodecCtx != nil {
		s.audioCodecCtx.Free()
	}
	s.audioStream = stream
	s.audioCodecCtx = codecCtx
}

// openSource opens uri, probes its streams, and opens decoders for the
// first usable video and audio stream (stream_component_open in
// original_source/src/ffplayer.c, minus the filter-graph and hardware
// device setup spec.md's Non-goals exclude).
func openSource(ctx context.Context, uri string, formatName string, formatOpts *astiav.Dictionary) (*source, error) {
	formatCtx := astiav.AllocFormatContext()
	if formatCtx == nil {
		return nil, fmt.Errorf("avcore: failed allocating format context")
	}

	src := &source{ctx: ctx, formatCtx: formatCtx}
	formatCtx.SetInterruptCallback(func() int {
		select {
		case <-ctx.Done():
			return 1
		default:
			return 0
		}
	})

	var inputFormat *astiav.InputFormat
	if formatName != "" {
		inputFormat = astiav.FindInputFormat(formatName)
	}

	if err := formatCtx.OpenInput(uri, inputFormat, formatOpts); err != nil {
		formatCtx.Free()
		return nil, fmt.Errorf("avcore: open input: %w", err)
	}

	if err := formatCtx.FindStreamInfo(nil); err != nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("avcore: find stream info: %w", err)
	}

	// formatCtx.InputFormat() is the format actually probed/selected, which
	// may differ from the caller's formatName hint (or be resolved from nil).
	resolvedFormat := formatCtx.InputFormat()
	src.realtime = detectRealtime(formatCtx, resolvedFormat, uri)
	src.byteLength = formatCtx.IOContext().Size()
	src.maxFrameDuration = 3600.0
	if resolvedFormat != nil && resolvedFormat.Flags().Has(astiav.InputFormatFlagTsDiscont) {
		src.maxFrameDuration = 10.0
	}

	for _, stream := range formatCtx.Streams() {
		switch stream.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if src.videoStream == nil {
				src.videoStream = stream
			}
		case astiav.MediaTypeAudio:
			if src.audioStream == nil {
				src.audioStream = stream
			}
		}
	}

	if src.videoStream == nil && src.audioStream == nil {
		src.Close()
		return nil, ErrNoStreams
	}

	if src.videoStream != nil {
		codecCtx, err := openCodec(src.videoStream)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("avcore: open video codec: %w", err)
		}
		src.videoCodecCtx = codecCtx
	}
	if src.audioStream != nil {
		codecCtx, err := openCodec(src.audioStream)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("avcore: open audio codec: %w", err)
		}
		src.audioCodecCtx = codecCtx
	}

	return src, nil
}

func openCodec(stream *astiav.Stream) (*astiav.CodecContext, error) {
	codec := astiav.FindDecoder(stream.CodecParameters().CodecID())
	if codec == nil {
		return nil, fmt.Errorf("avcore: no decoder for codec id %d", stream.CodecParameters().CodecID())
	}
	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("avcore: failed allocating codec context")
	}
	if err := stream.CodecParameters().ToCodecContext(codecCtx); err != nil {
		codecCtx.Free()
		return nil, err
	}
	codecCtx.SetPktTimeBase(stream.TimeBase())
	if err := codecCtx.Open(codec, nil); err != nil {
		codecCtx.Free()
		return nil, err
	}
	return codecCtx, nil
}

// detectRealtime mirrors ffplayer.c's is_realtime: certain input formats and
// URI schemes represent live sources where the demuxer must never apply
// packet-queue backpressure the way it does for seekable files (spec.md
// §4.5's realtime carve-out).
func detectRealtime(formatCtx *astiav.FormatContext, inputFormat *astiav.InputFormat, uri string) bool {
	if inputFormat != nil {
		switch inputFormat.Name() {
		case "rtp", "rtsp", "sdp":
			return true
		}
	}
	if formatCtx.IOContext() != nil {
		if strings.HasPrefix(uri, "rtp:") || strings.HasPrefix(uri, "udp:") {
			return true
		}
	}
	return false
}

func (s *source) Close() {
	if s.videoCodecCtx != nil {
		s.videoCodecCtx.Free()
	}
	if s.audioCodecCtx != nil {
		s.audioCodecCtx.Free()
	}
	if s.formatCtx != nil {
		s.formatCtx.CloseInput()
		s.formatCtx.Free()
	}
}

// Duration returns the container's reported duration in AV_TIME_BASE units,
// or astiav.NoPtsValue if unknown.
func (s *source) Duration() int64 {
	return s.formatCtx.Duration()
}

func (s *source) SeekToStart(startTime int64) error {
	if startTime == astiav.NoPtsValue {
		return nil
	}
	return s.formatCtx.SeekFrame(-1, startTime, astiav.NewSeekFlags())
}

// AttachedPicture returns the video stream's embedded cover-art packet, ref
// counted into a fresh *astiav.Packet the caller owns, or nil if the video
// stream doesn't carry one (AV_DISPOSITION_ATTACHED_PIC, ff_player.c:1320).
func (s *source) AttachedPicture() *astiav.Packet {
	vs := s.VideoStream()
	if vs == nil || !vs.Disposition().Has(astiav.DispositionAttachedPic) {
		return nil
	}
	pkt := astiav.AllocPacket()
	if err := pkt.Ref(vs.AttachedPic()); err != nil {
		pkt.Free()
		return nil
	}
	return pkt
}

// nextStreamIndex scans formatCtx's streams for the next one of mediaType
// after fromIndex, wrapping around once and giving up if it returns to
// fromIndex (ff_player_cycle_channel's wraparound scan, minus the AVProgram
// narrowing the original applies when the video stream belongs to one --
// see DESIGN.md). Returns -1 if no other stream of that type exists.
func nextStreamIndex(formatCtx *astiav.FormatContext, mediaType astiav.MediaType, fromIndex int) int {
	streams := formatCtx.Streams()
	n := len(streams)
	if n == 0 {
		return -1
	}
	for i := 1; i <= n; i++ {
		idx := (fromIndex + i) % n
		if idx == fromIndex {
			return -1
		}
		if streams[idx].CodecParameters().MediaType() == mediaType {
			return idx
		}
	}
	return -1
}
