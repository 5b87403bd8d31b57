package avcore

import (
	"math"

	"github.com/asticode/go-astiav"
)

// AudioParams describes a negotiated PCM format, both the source's (as
// decoded) and the device's (as opened by an AudioOpener), per spec.md §6.
type AudioParams struct {
	Format        astiav.SampleFormat
	SampleRate    int
	ChannelLayout astiav.ChannelLayout
	FrameSize     int
	BytesPerSec   int
}

// audioPull owns the resampler and drift-correction bookkeeping that turns
// decoded audio Frames into a PCM byte stream at the device's negotiated
// format (spec.md §4.8, audio_decode_frame/sdl_audio_callback in ffplayer.c).
type audioPull struct {
	srcParams AudioParams
	dstParams AudioParams

	swr *astiav.SoftwareResampleContext

	audioClock       float64
	audioClockEpoch  int

	buf       []byte // last resampled buffer not yet fully consumed
	bufIndex  int
}

func newAudioPull(dstParams AudioParams) *audioPull {
	return &audioPull{dstParams: dstParams, audioClockEpoch: -1}
}

// AcquireAudioBuf fills out with up to len(out) resampled PCM bytes, pulling
// and decoding frames from the audio decoder/frame queue as needed. It
// returns the number of bytes written. When paused it writes nothing and
// returns 0; it stops early when the frame queue aborts or a frame fails to
// convert. Bytes of out past the returned count are left untouched (no
// silence is written).
func (a *audioPull) AcquireAudioBuf(
	queue *FrameQueue,
	decoder *Decoder,
	sync *synchronizer,
	hasVideo bool,
	paused bool,
	out []byte,
) int {
	if paused {
		return 0
	}

	written := 0
	for written < len(out) {
		if a.bufIndex >= len(a.buf) {
			n, err := a.refill(queue, sync, hasVideo)
			if err != nil || n == 0 {
				break
			}
		}
		n := copy(out[written:], a.buf[a.bufIndex:])
		a.bufIndex += n
		written += n
	}
	return written
}

// refill decodes and resamples the next audio frame into a.buf, updating
// the audio clock from the frame's own timestamp (audio_decode_frame's
// per-frame half).
func (a *audioPull) refill(queue *FrameQueue, sync *synchronizer, hasVideo bool) (int, error) {
	frame, ok := queue.PeekReadable()
	if !ok {
		return 0, errAborted
	}

	srcParams := AudioParams{
		Format:        frame.SampleFormat,
		SampleRate:    frame.SampleRate,
		ChannelLayout: frame.ChannelLayout,
	}
	if a.needsResamplerRebuild(srcParams) {
		if err := a.rebuildResampler(srcParams); err != nil {
			queue.Next()
			return 0, err
		}
	}

	data, err := frame.Data()
	if err != nil {
		queue.Next()
		return 0, err
	}

	wantedNbSamples := sync.SynchronizeAudio(frame.NbSamples, frame.SampleRate, hasVideo, true)

	outSamples := wantedNbSamples*a.dstParams.SampleRate/frame.SampleRate + 256
	outBytes := outSamples * a.dstParams.FrameSize
	if cap(a.buf) < outBytes {
		a.buf = make([]byte, outBytes)
	} else {
		a.buf = a.buf[:outBytes]
	}

	if wantedNbSamples != frame.NbSamples {
		if err := a.swr.SetCompensation(
			(wantedNbSamples-frame.NbSamples)*a.dstParams.SampleRate/frame.SampleRate,
			wantedNbSamples*a.dstParams.SampleRate/frame.SampleRate,
		); err != nil {
			return 0, err
		}
	}

	n, err := a.swr.ConvertBytes(data, a.buf)
	if err != nil {
		queue.Next()
		return 0, err
	}
	a.buf = a.buf[:n]
	a.bufIndex = 0

	if !math.IsNaN(frame.Pts) {
		a.audioClock = frame.Pts + float64(frame.NbSamples)/float64(frame.SampleRate)
	} else {
		a.audioClock = math.NaN()
	}
	a.audioClockEpoch = frame.Epoch

	queue.Next()
	return n, nil
}

func (a *audioPull) needsResamplerRebuild(src AudioParams) bool {
	return a.swr == nil ||
		src.Format != a.srcParams.Format ||
		src.SampleRate != a.srcParams.SampleRate ||
		src.ChannelLayout.String() != a.srcParams.ChannelLayout.String()
}

func (a *audioPull) rebuildResampler(src AudioParams) error {
	if a.swr != nil {
		a.swr.Free()
	}
	swr, err := astiav.AllocSoftwareResampleContext()
	if err != nil {
		return err
	}
	if err := swr.SetOpts(
		a.dstParams.ChannelLayout, a.dstParams.Format, a.dstParams.SampleRate,
		src.ChannelLayout, src.Format, src.SampleRate,
	); err != nil {
		swr.Free()
		return err
	}
	if err := swr.Init(); err != nil {
		swr.Free()
		return err
	}
	a.swr = swr
	a.srcParams = src
	return nil
}

// AudioClock returns the "write-cursor" audio PTS estimate and the epoch it
// was computed in.
func (a *audioPull) AudioClock() (pts float64, epoch int) {
	return a.audioClock, a.audioClockEpoch
}

// SyncAudio derives what the listener is actually hearing right now by
// subtracting the device-reported unplayed-buffer latency from the
// write-cursor clock, then anchors the audio Clock to that value
// (sdl_audio_callback's clock-update tail in ffplayer.c).
func (a *audioPull) SyncAudio(clock *Clock, bytesPerSec int, unplayedBytes int) {
	if math.IsNaN(a.audioClock) {
		clock.Set(math.NaN(), a.audioClockEpoch)
		return
	}
	latency := 0.0
	if bytesPerSec > 0 {
		latency = float64(unplayedBytes) / float64(bytesPerSec)
	}
	clock.Set(a.audioClock-latency, a.audioClockEpoch)
}
