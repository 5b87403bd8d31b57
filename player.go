package avcore

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"
)

// openConfig collects Open's functional options (spec.md §6, ambient-stack
// config pattern adapted from the original's ff_player_opts_t dict).
type openConfig struct {
	formatName  string
	formatOpts  *astiav.Dictionary
	syncMode    SyncMode
	onVideoMeta VideoMetaFunc
	audioOpener AudioOpener
	onError     ErrorFunc
	startTime   int64
	loop        int
}

// OpenOption configures a Player at construction time.
type OpenOption func(*openConfig)

// WithFormatName forces a specific input format (e.g. "mpegts") instead of
// probing.
func WithFormatName(name string) OpenOption {
	return func(c *openConfig) { c.formatName = name }
}

// WithSyncMode selects the master clock (default SyncAudioMaster, matching
// ffplay's default).
func WithSyncMode(mode SyncMode) OpenOption {
	return func(c *openConfig) { c.syncMode = mode }
}

// WithVideoMeta registers the callback invoked once the video stream's
// geometry is known.
func WithVideoMeta(fn VideoMetaFunc) OpenOption {
	return func(c *openConfig) { c.onVideoMeta = fn }
}

// WithAudioOpener registers the callback that opens a playback device.
// Required if the source may contain audio.
func WithAudioOpener(fn AudioOpener) OpenOption {
	return func(c *openConfig) { c.audioOpener = fn }
}

// WithErrorFunc registers the callback invoked when the reader goroutine
// exits abnormally.
func WithErrorFunc(fn ErrorFunc) OpenOption {
	return func(c *openConfig) { c.onError = fn }
}

// WithStartTime seeks to the given offset before the first frame is
// produced.
func WithStartTime(d time.Duration) OpenOption {
	return func(c *openConfig) { c.startTime = int64(d / time.Microsecond) }
}

// WithLoop sets how many times the source plays before the demuxer signals
// EOF and exits (spec.md §4.5e). count == 0 loops forever, matching
// ffplay's "-loop 0"; the default (when this option is never passed) is 1,
// i.e. play once.
func WithLoop(count int) OpenOption {
	return func(c *openConfig) { c.loop = count }
}

const (
	videoFrameQueueCapacity = 3
	audioFrameQueueCapacity = 9
	noSyncThreshold         = 10.0
)

// Player is the top-level handle described by spec.md §6: it owns the
// demuxer goroutine, the two decoder goroutines, the packet/frame queues,
// the three clocks and the synchronizer, and exposes the control surface a
// host application drives from its own render/audio-callback loop.
type Player struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	src *source

	videoQueue *PacketQueue
	audioQueue *PacketQueue

	videoFrames *FrameQueue
	audioFrames *FrameQueue

	videoDecoder *Decoder
	audioDecoder *Decoder

	videoWake *continueSignal
	audioWake *continueSignal

	demuxer *demuxer

	audioClock    *Clock
	videoClock    *Clock
	externalClock *Clock
	sync          *synchronizer

	refresh   videoRefresh
	pull      *audioPull
	dstParams AudioParams

	mu           sync.Mutex
	paused       bool
	step         bool
	volumeFactor float64

	// pendingVideoSwitch/pendingAudioSwitch carry a CycleChannel request
	// across to the owning decoder goroutine, which applies it after
	// observing the packet-queue abort CycleChannel uses to interrupt a
	// blocked Decode call (see cycleStream/applyPendingVideoSwitch).
	pendingVideoSwitch *streamSwitch
	pendingAudioSwitch *streamSwitch

	onError ErrorFunc

	closeOnce sync.Once
}

// streamSwitch is a freshly opened codec context for a different stream of
// the same media type, awaiting pickup by the decoder goroutine that owns
// the old one (cycleStream).
type streamSwitch struct {
	stream   *astiav.Stream
	codecCtx *astiav.CodecContext
}

// Open opens uri and starts the reader, video-decoder and (if present)
// audio-decoder goroutines. The returned Player is paused-off (playing) by
// default; the caller drives presentation by calling AcquireVideoFrame and
// AcquireAudioBuf from its own loop (spec.md §6).
func Open(ctx context.Context, uri string, opts ...OpenOption) (*Player, error) {
	cfg := openConfig{syncMode: SyncAudioMaster, loop: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	pctx, cancel := context.WithCancel(ctx)
	src, err := openSource(pctx, uri, cfg.formatName, cfg.formatOpts)
	if err != nil {
		cancel()
		return nil, err
	}

	if src.audioStream != nil && cfg.audioOpener == nil {
		src.Close()
		cancel()
		return nil, ErrNilAudioSink
	}

	videoQueue := NewPacketQueue()
	audioQueue := NewPacketQueue()
	videoWake := newContinueSignal()
	audioWake := newContinueSignal()

	videoFrames := NewFrameQueue(videoQueue, videoFrameQueueCapacity, true)
	audioFrames := NewFrameQueue(audioQueue, audioFrameQueueCapacity, true)

	p := &Player{
		ctx:          pctx,
		cancel:       cancel,
		src:          src,
		videoQueue:   videoQueue,
		audioQueue:   audioQueue,
		videoFrames:  videoFrames,
		audioFrames:  audioFrames,
		videoWake:    videoWake,
		audioWake:    audioWake,
		volumeFactor: 1.0,
		onError:      cfg.onError,
	}

	p.externalClock = NewClock(nil)
	if src.videoStream != nil {
		p.videoClock = NewClock(videoQueue.Epoch)
		p.videoDecoder = NewDecoder(src.videoCodecCtx, astiav.MediaTypeVideo, videoQueue, videoWake, true)
	}
	if src.audioStream != nil {
		p.audioClock = NewClock(audioQueue.Epoch)
		p.audioDecoder = NewDecoder(src.audioCodecCtx, astiav.MediaTypeAudio, audioQueue, audioWake, false)
	}
	p.sync = newSynchronizer(cfg.syncMode, p.audioClockOrExternal(), p.videoClockOrExternal(), p.externalClock)
	p.sync.SetMaxFrameDuration(src.maxFrameDuration)
	p.refresh.maxFrameDuration = src.maxFrameDuration

	if src.audioStream != nil {
		dstParams, err := cfg.audioOpener(src.audioCodecCtx.ChannelLayout(), src.audioCodecCtx.SampleRate())
		if err != nil {
			src.Close()
			cancel()
			return nil, err
		}
		p.dstParams = dstParams
		p.pull = newAudioPull(dstParams)
		p.sync.SetAudioDiffThreshold(float64(dstParams.BytesPerSec), dstParams.FrameSize*2)
	}

	if cfg.onVideoMeta != nil && src.videoStream != nil {
		cfg.onVideoMeta(src.videoCodecCtx.Width(), src.videoCodecCtx.Height(), src.videoCodecCtx.SampleAspectRatio())
	}

	if cfg.startTime != 0 {
		_ = src.SeekToStart(cfg.startTime)
	}

	p.demuxer = newDemuxer(src, videoQueue, audioQueue, videoWake, audioWake, p.externalClock, cfg.startTime, cfg.loop)
	p.demuxer.onError = func(err error) {
		if p.onError != nil {
			p.onError(err)
		}
	}

	group, gctx := errgroup.WithContext(pctx)
	p.group = group
	p.ctx = gctx

	group.Go(func() error {
		p.demuxer.Run(gctx)
		return nil
	})
	if p.videoDecoder != nil {
		group.Go(func() error { return p.runVideoDecoder(gctx) })
	}
	if p.audioDecoder != nil {
		group.Go(func() error { return p.runAudioDecoder(gctx) })
	}

	return p, nil
}

func (p *Player) audioClockOrExternal() *Clock {
	if p.audioClock != nil {
		return p.audioClock
	}
	return p.externalClock
}

func (p *Player) videoClockOrExternal() *Clock {
	if p.videoClock != nil {
		return p.videoClock
	}
	return p.externalClock
}

func (p *Player) runVideoDecoder(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		frame, ok := p.videoFrames.PeekWritable()
		if !ok {
			if ctx.Err() == nil && p.applyPendingVideoSwitch() {
				continue
			}
			return nil
		}

		p.mu.Lock()
		decoder := p.videoDecoder
		p.mu.Unlock()
		timeBase := p.src.VideoStream().TimeBase()

		raw := reuseOrAllocFrame(frame.raw)
		produced, err := decoder.Decode(raw)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if p.applyPendingVideoSwitch() {
				continue
			}
			return nil
		}
		if !produced {
			continue
		}
		fillVideoFrame(frame, raw, timeBase, decoder.PacketEpoch())
		p.videoFrames.Push()
	}
}

func (p *Player) runAudioDecoder(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		frame, ok := p.audioFrames.PeekWritable()
		if !ok {
			if ctx.Err() == nil && p.applyPendingAudioSwitch() {
				continue
			}
			return nil
		}

		p.mu.Lock()
		decoder := p.audioDecoder
		p.mu.Unlock()
		timeBase := p.src.AudioStream().TimeBase()

		raw := reuseOrAllocFrame(frame.raw)
		produced, err := decoder.Decode(raw)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if p.applyPendingAudioSwitch() {
				continue
			}
			return nil
		}
		if !produced {
			continue
		}
		fillAudioFrame(frame, raw, timeBase, decoder.PacketEpoch())
		p.audioFrames.Push()
	}
}

// applyPendingVideoSwitch installs a CycleChannel request queued by
// cycleStream, run from the video decoder goroutine itself so the codec
// context it was decoding with is only ever touched by one goroutine.
// Returns false when there is no pending switch (a genuine shutdown abort).
func (p *Player) applyPendingVideoSwitch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw := p.pendingVideoSwitch
	if sw == nil {
		return false
	}
	p.pendingVideoSwitch = nil
	p.src.SwitchVideoStream(sw.stream, sw.codecCtx)
	p.videoDecoder = NewDecoder(sw.codecCtx, astiav.MediaTypeVideo, p.videoQueue, p.videoWake, true)
	p.videoQueue.Flush()
	p.videoQueue.Start()
	return true
}

// applyPendingAudioSwitch is applyPendingVideoSwitch's audio counterpart.
func (p *Player) applyPendingAudioSwitch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw := p.pendingAudioSwitch
	if sw == nil {
		return false
	}
	p.pendingAudioSwitch = nil
	p.src.SwitchAudioStream(sw.stream, sw.codecCtx)
	p.audioDecoder = NewDecoder(sw.codecCtx, astiav.MediaTypeAudio, p.audioQueue, p.audioWake, false)
	p.audioQueue.Flush()
	p.audioQueue.Start()
	return true
}

// reuseOrAllocFrame unrefs and reuses a frame queue slot's existing astiav
// frame object, or allocates one the first time a slot is written to, so a
// slot's underlying AVFrame is allocated once and cycled for the life of
// the queue rather than churned every decode.
func reuseOrAllocFrame(existing *astiav.Frame) *astiav.Frame {
	if existing == nil {
		return astiav.AllocFrame()
	}
	existing.Unref()
	return existing
}

func fillVideoFrame(dst *Frame, raw *astiav.Frame, timeBase astiav.Rational, epoch int) {
	*dst = Frame{
		Width:             raw.Width(),
		Height:            raw.Height(),
		SampleAspectRatio: raw.SampleAspectRatio(),
		Pts:               ptsToSeconds(raw.Pts(), timeBase),
		Pos:               raw.PktPos(),
		Epoch:             epoch,
		raw:               raw,
	}
}

func fillAudioFrame(dst *Frame, raw *astiav.Frame, timeBase astiav.Rational, epoch int) {
	*dst = Frame{
		SampleFormat:  raw.SampleFormat(),
		SampleRate:    raw.SampleRate(),
		ChannelLayout: raw.ChannelLayout(),
		NbSamples:     raw.NbSamples(),
		Pts:           ptsToSeconds(raw.Pts(), astiav.NewRational(1, raw.SampleRate())), // recoverPts leaves pts in 1/sample_rate units
		Pos:           raw.PktPos(),
		Epoch:         epoch,
		raw:           raw,
	}
}

func ptsToSeconds(pts int64, timeBase astiav.Rational) float64 {
	if pts == astiav.NoPtsValue {
		return math.NaN()
	}
	return float64(pts) * timeBase.Float64()
}

// AcquireVideoFrame returns the frame (if any) that should be presented
// right now, updating remainingTime with how long the caller should wait
// before calling again (spec.md §6).
func (p *Player) AcquireVideoFrame(remainingTime *float64) *Frame {
	if p.videoDecoder == nil {
		return nil
	}
	p.mu.Lock()
	paused := p.paused
	step := p.step
	p.mu.Unlock()

	if !paused && p.src.realtime && p.sync.EffectiveMode(true, p.audioDecoder != nil) == SyncExternalClock {
		p.sync.CheckExternalClockSpeed(p.videoDecoder != nil, p.audioDecoder != nil, p.videoQueue.Count(), p.audioQueue.Count())
	}

	result, nextStep := p.refresh.AcquireVideoFrame(p.videoFrames, p.sync, true, p.audioDecoder != nil, paused, step, remainingTime)

	p.mu.Lock()
	p.step = nextStep
	p.mu.Unlock()

	if step && !nextStep && !paused {
		p.TogglePause()
	}

	if !result.HasFrame {
		return nil
	}
	if p.videoClock != nil && !math.IsNaN(result.Frame.Pts) {
		p.videoClock.Set(result.Frame.Pts, result.Frame.Epoch)
		p.externalClock.SyncToSlave(p.videoClock, noSyncThreshold)
	}
	return result.Frame
}

// AcquireAudioBuf fills out with resampled PCM audio and returns the number
// of bytes written (spec.md §6).
func (p *Player) AcquireAudioBuf(out []byte) int {
	if p.audioDecoder == nil || p.pull == nil {
		return 0
	}
	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()

	n := p.pull.AcquireAudioBuf(p.audioFrames, p.audioDecoder, p.sync, p.videoDecoder != nil, paused, out)
	if n > 0 {
		applyVolume(out[:n], p.AudioVolume())
	}
	return n
}

// SyncAudio lets the host report how many of the bytes handed back by
// AcquireAudioBuf are still sitting unplayed in the device buffer, so the
// audio clock reflects what's audible right now rather than what was last
// decoded (spec.md §4.8).
func (p *Player) SyncAudio(unplayedBytes int) {
	if p.audioClock == nil || p.pull == nil {
		return
	}
	p.pull.SyncAudio(p.audioClock, p.dstParams.BytesPerSec, unplayedBytes)
	p.externalClock.SyncToSlave(p.audioClock, noSyncThreshold)
}

// TogglePause toggles playback, re-anchoring every clock so its projected
// value doesn't jump at the pause boundary (stream_toggle_pause).
func (p *Player) TogglePause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = !p.paused
	if !p.paused {
		p.refresh.frameTimer += nowSeconds() - p.videoClockOrExternal().LastUpdated()
	}
	for _, c := range []*Clock{p.externalClock, p.videoClock, p.audioClock} {
		if c == nil {
			continue
		}
		c.Set(c.Get(), c.Epoch())
		c.SetPaused(p.paused)
	}
}

// Paused reports the current pause state (spec.md §6's paused query).
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// ForceRefresh reports whether a newly displayed or re-stamped frame is
// waiting for the UI to redraw even without calling AcquireVideoFrame again
// (spec.md §6's force_refresh query; player->force_refresh).
func (p *Player) ForceRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh.forceRefresh
}

// AudioParams returns the audio device format negotiated at Open time
// (spec.md §6's audio_params query). Zero value if the source has no audio.
func (p *Player) AudioParams() AudioParams {
	return p.dstParams
}

// AudioVolume returns the current linear gain in [0, 1], derived from the
// logarithmic UpdateVolume steps (spec.md §6's audio_volume query).
func (p *Player) AudioVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumeFactor
}

// FormatContext exposes the underlying astiav format context (spec.md §6's
// format_context query), e.g. for hosts that want container metadata
// AcquireVideoFrame/AcquireAudioBuf don't surface.
func (p *Player) FormatContext() *astiav.FormatContext {
	return p.src.formatCtx
}

// StepToNextFrame steps one video frame forward, pausing afterward if not
// already paused (step_to_next_frame).
func (p *Player) StepToNextFrame() {
	p.mu.Lock()
	wasPaused := p.paused
	p.mu.Unlock()
	if wasPaused {
		p.TogglePause()
	}
	p.mu.Lock()
	p.step = true
	p.mu.Unlock()
}

// Seek requests a relative seek of incr seconds, applied asynchronously by
// the reader goroutine (spec.md §6).
func (p *Player) Seek(incr time.Duration) {
	pos := p.sync.MasterClock(p.videoDecoder != nil, p.audioDecoder != nil)
	if math.IsNaN(pos) {
		pos = 0
	}
	posUs := int64(pos*1e6) + int64(incr/time.Microsecond)
	p.demuxer.RequestSeek(posUs, int64(incr/time.Microsecond), false)
}

// CycleChannel switches to the next stream of mediaType inside the format
// context, wrapping around (spec.md §6's cycle_channel). With only one
// stream of that type -- the common case -- it is a no-op: there is nothing
// else to switch to (ff_player_cycle_channel).
func (p *Player) CycleChannel(mediaType astiav.MediaType) error {
	switch mediaType {
	case astiav.MediaTypeVideo:
		return p.cycleStream(astiav.MediaTypeVideo)
	case astiav.MediaTypeAudio:
		return p.cycleStream(astiav.MediaTypeAudio)
	default:
		return nil
	}
}

func (p *Player) cycleStream(mediaType astiav.MediaType) error {
	p.mu.Lock()

	var current *astiav.Stream
	if mediaType == astiav.MediaTypeVideo {
		current = p.src.VideoStream()
	} else {
		current = p.src.AudioStream()
	}
	if current == nil {
		p.mu.Unlock()
		return nil
	}

	nextIndex := nextStreamIndex(p.src.formatCtx, mediaType, current.Index())
	if nextIndex < 0 {
		p.mu.Unlock()
		return nil
	}

	newStream := p.src.formatCtx.Streams()[nextIndex]
	newCodecCtx, err := openCodec(newStream)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	sw := &streamSwitch{stream: newStream, codecCtx: newCodecCtx}
	if mediaType == astiav.MediaTypeVideo {
		p.pendingVideoSwitch = sw
		p.mu.Unlock()
		p.videoQueue.Abort()
	} else {
		p.pendingAudioSwitch = sw
		p.mu.Unlock()
		p.audioQueue.Abort()
	}
	return nil
}

// UpdateVolume nudges the volume by step decibels in the direction of sign:
// the linear gain is converted to decibels (20*log10), shifted, converted
// back and clamped to [0, 1], so equal steps sound like equal loudness
// steps (update_volume).
func (p *Player) UpdateVolume(sign int, step float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	db := 20 * math.Log10(p.volumeFactor)
	db += float64(sign) * step
	p.volumeFactor = math.Pow(10, db/20)
	if p.volumeFactor < 0 {
		p.volumeFactor = 0
	}
	if p.volumeFactor > 1 {
		p.volumeFactor = 1
	}
}

// applyVolume scales 16-bit little-endian PCM samples in place by factor.
func applyVolume(buf []byte, factor float64) {
	if factor == 1.0 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		scaled := float64(sample) * factor
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		}
		if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		s := int16(scaled)
		buf[i] = byte(s)
		buf[i+1] = byte(s >> 8)
	}
}

// SeekChapter seeks to the start of the chapter `delta` positions away from
// the one containing the current playback position (seek_chapter).
func (p *Player) SeekChapter(delta int) {
	chapters := p.src.formatCtx.Chapters()
	if len(chapters) == 0 {
		return
	}
	pos := p.sync.MasterClock(p.videoDecoder != nil, p.audioDecoder != nil)
	if math.IsNaN(pos) {
		pos = 0
	}
	posTicks := int64(pos * avTimeBase)

	idx := -1
	for i, ch := range chapters {
		start := rescaleToAvTimeBase(ch.Start(), ch.TimeBase())
		if posTicks < start {
			break
		}
		idx = i
	}
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(chapters) {
		return
	}
	target := rescaleToAvTimeBase(chapters[idx].Start(), chapters[idx].TimeBase())
	p.demuxer.RequestSeek(target, 0, false)
}

// avTimeBase is AV_TIME_BASE, the tick rate Seek/SeekChapter positions are
// expressed in throughout this package.
const avTimeBase = 1000000

func rescaleToAvTimeBase(ts int64, tb astiav.Rational) int64 {
	return astiav.RescaleQ(ts, tb, astiav.NewRational(1, avTimeBase))
}

// Close stops all goroutines and releases the underlying source. Safe to
// call multiple times.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.videoDecoder != nil {
			p.videoDecoder.Abort(p.videoFrames)
		}
		if p.audioDecoder != nil {
			p.audioDecoder.Abort(p.audioFrames)
		}
		_ = p.group.Wait()
		p.videoQueue.Flush()
		p.audioQueue.Flush()
		p.videoFrames.Close()
		p.audioFrames.Close()
		if p.pull != nil && p.pull.swr != nil {
			p.pull.swr.Free()
		}
		p.src.Close()
	})
	return nil
}
