package avcore

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
)

// maxQueueSizeBytes is the combined audio+video packet queue backpressure
// ceiling (spec.md §4.5's MAX_QUEUE_SIZE, 15 MiB in the original).
const maxQueueSizeBytes = 15 * 1024 * 1024

// minFrames is the "enough packets buffered" heuristic floor used alongside
// maxQueueSizeBytes (spec.md §4.5).
const minFrames = 25

// loopInfinite is the sentinel WithLoop(0) installs: ffplay's "-loop 0"
// replays the file forever.
const loopInfinite = 0

// seekRequest describes a pending user-initiated seek, applied by the
// demuxer loop at the top of its next iteration (spec.md §4.5b).
type seekRequest struct {
	pos     int64
	rel     int64
	seekMin int64
	seekMax int64
	byBytes bool
	pending bool
}

// demuxer is the reader goroutine: it owns the opened source and pumps
// packets into the video/audio PacketQueues, applying seeks and backpressure.
// It is the Go port of read_thread in original_source/src/ff_player.c, with
// the filter-graph, subtitle and hardware-decode paths its spec.md
// distillation drops.
type demuxer struct {
	src *source

	videoQueue *PacketQueue
	audioQueue *PacketQueue

	videoWake *continueSignal
	audioWake *continueSignal

	externalClock *Clock

	eofSent            bool
	attachmentsPending bool
	seek               seekRequest
	seekMu             sync.Mutex

	startTime int64 // opts.start_time, AV_TIME_BASE units; replay target for loop mode
	loop      int   // opts.loop: loopInfinite (0) = forever, else plays N times total

	onError func(error)
}

func newDemuxer(src *source, videoQueue, audioQueue *PacketQueue, videoWake, audioWake *continueSignal, externalClock *Clock, startTime int64, loop int) *demuxer {
	return &demuxer{
		src:                src,
		videoQueue:         videoQueue,
		audioQueue:         audioQueue,
		videoWake:          videoWake,
		audioWake:          audioWake,
		externalClock:      externalClock,
		attachmentsPending: true,
		startTime:          startTime,
		loop:               loop,
	}
}

// RequestSeek queues a seek to be applied on the demuxer's next loop
// iteration. pos/rel are in AV_TIME_BASE units (spec.md §6's Seek op).
// byBytes selects AVSEEK_FLAG_BYTE semantics (spec.md §6's "Seek encoding");
// Player's own callers always seek by time and pass false.
func (d *demuxer) RequestSeek(pos, rel int64, byBytes bool) {
	d.seekMu.Lock()
	d.seek = seekRequest{pos: pos, rel: rel, byBytes: byBytes, pending: true}
	if rel > 0 {
		d.seek.seekMin = pos
	} else {
		d.seek.seekMin = math.MinInt64
	}
	if rel < 0 {
		d.seek.seekMax = pos
	} else {
		d.seek.seekMax = math.MaxInt64
	}
	d.seekMu.Unlock()

	d.videoWake.Notify()
	d.audioWake.Notify()
}

// Run is the reader loop; it returns when ctx is cancelled, when the end of
// the input is reached with no loop pass left, or when a non-recoverable
// read error occurs. Only in the last case is onError (if set) invoked,
// once, before returning; a failed seek is logged and the loop goes on.
func (d *demuxer) Run(ctx context.Context) {
	d.videoQueue.Start()
	d.audioQueue.Start()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.seekMu.Lock()
		seek := d.seek
		d.seek.pending = false
		d.seekMu.Unlock()

		if seek.pending {
			flags := astiav.NewSeekFlags()
			if seek.byBytes {
				flags = flags.Add(astiav.SeekFlagByte)
			}
			if err := d.src.formatCtx.SeekFile(-1, seek.seekMin, seek.pos, seek.seekMax, flags); err != nil {
				pkgLogger.Printf("avcore: seek failed: %v", err)
			} else {
				if d.videoQueue != nil {
					d.videoQueue.Flush()
				}
				if d.audioQueue != nil {
					d.audioQueue.Flush()
				}
				if seek.byBytes {
					d.externalClock.Set(math.NaN(), 0)
				} else {
					d.externalClock.Set(float64(seek.pos)/float64(avTimeBase), 0)
				}
			}
			d.attachmentsPending = true
			d.eofSent = false
		}

		if d.attachmentsPending {
			if attached := d.src.AttachedPicture(); attached != nil {
				vs := d.src.VideoStream()
				d.videoQueue.Put(newPacket(attached))
				d.videoQueue.PutNull(vs.Index())
			}
			d.attachmentsPending = false
		}

		if d.videoQueue.SizeBytes()+d.audioQueue.SizeBytes() > maxQueueSizeBytes || d.enoughPackets() {
			// Backpressure: wait for a decoder to drain before reading more,
			// unless the source is realtime (never throttled, spec.md §4.5).
			if !d.src.realtime {
				d.sleepOrWake(ctx, 10*time.Millisecond)
				continue
			}
		}

		if d.eofSent {
			if d.src.realtime {
				d.sleepOrWake(ctx, 10*time.Millisecond)
				continue
			}
			if d.loop == loopInfinite || d.loop > 1 {
				if d.loop != loopInfinite {
					d.loop--
				}
				d.RequestSeek(d.startTime, 0, false)
				continue
			}
			return
		}

		pkt := astiav.AllocPacket()
		err := d.src.formatCtx.ReadFrame(pkt)
		if err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEof) || d.src.formatCtx.IOContext() == nil {
				if vs := d.src.VideoStream(); vs != nil {
					d.videoQueue.PutNull(vs.Index())
				}
				if as := d.src.AudioStream(); as != nil {
					d.audioQueue.PutNull(as.Index())
				}
				d.eofSent = true
				continue
			}
			if d.onError != nil {
				d.onError(err)
			}
			return
		}

		switch {
		case d.src.VideoStream() != nil && pkt.StreamIndex() == d.src.VideoStream().Index():
			if !d.videoQueue.Put(newPacket(pkt)) {
				pkt.Free()
			}
		case d.src.AudioStream() != nil && pkt.StreamIndex() == d.src.AudioStream().Index():
			if !d.audioQueue.Put(newPacket(pkt)) {
				pkt.Free()
			}
		default:
			pkt.Free()
		}
	}
}

// enoughPackets reports whether both selected streams already carry a
// comfortable backlog, the second half of spec.md §4.5's backpressure gate.
func (d *demuxer) enoughPackets() bool {
	videoOk := d.src.VideoStream() == nil || d.videoQueue.Count() > minFrames
	audioOk := d.src.AudioStream() == nil || d.audioQueue.Count() > minFrames
	return videoOk && audioOk
}

// sleepOrWake waits up to d for a decoder-drained wakeup or ctx
// cancellation, whichever comes first (the Go replacement for the
// condvar-timed-wait backpressure sleep in read_thread).
func (d *demuxer) sleepOrWake(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-d.videoWake.ch:
	case <-d.audioWake.ch:
	}
}
