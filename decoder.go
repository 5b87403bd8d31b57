package avcore

import (
	"errors"

	"github.com/asticode/go-astiav"
)

// errAborted is returned internally when a blocking wait observed the
// companion PacketQueue's abort flag. It is not a failure: spec.md §7
// classifies queue-aborted as a shutdown signal, never an error, so callers
// translate it into an ordinary "stop" rather than logging or retrying.
var errAborted = errors.New("avcore: packet queue aborted")

// continueSignal is the Go replacement for the reader thread's
// continue_read_thread condvar (spec.md §4.2/§4.5d): decoders Notify() it
// when their packet queue runs dry so the demuxer wakes up and refills
// instead of waiting out its own 10ms backpressure tick.
type continueSignal struct {
	ch chan struct{}
}

func newContinueSignal() *continueSignal {
	return &continueSignal{ch: make(chan struct{}, 1)}
}

// Notify wakes one waiter, coalescing bursts (a full channel means a wakeup
// is already pending).
func (s *continueSignal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Decoder pumps compressed Packets from a PacketQueue into decoded Frames,
// one per elementary stream, mirroring decoder.c's send/receive pump.
type Decoder struct {
	codecCtx *astiav.CodecContext
	queue    *PacketQueue
	wake     *continueSignal
	mediaType astiav.MediaType

	packetEpoch int
	finished    int // epoch at which EOF was delivered, 0 if not finished
	pending     bool
	pendingPkt  *astiav.Packet

	reorderPts bool // video: prefer best-effort timestamp over pkt_dts

	startPts   int64
	startPtsTb astiav.Rational
	nextPts    int64
	nextPtsTb  astiav.Rational
}

// NewDecoder creates a decoder over an already-opened codec context.
// reorderPts selects best-effort-timestamp PTS recovery for video streams;
// it is ignored for audio, which always recovers PTS from pkt_pts/next_pts
// (spec.md §4.4).
func NewDecoder(codecCtx *astiav.CodecContext, mediaType astiav.MediaType, queue *PacketQueue, wake *continueSignal, reorderPts bool) *Decoder {
	return &Decoder{
		codecCtx:   codecCtx,
		queue:      queue,
		wake:       wake,
		mediaType:  mediaType,
		packetEpoch: -1,
		reorderPts: reorderPts,
		startPts:   astiav.NoPtsValue,
	}
}

// SetStartPts seeds the PTS-recovery fallback used when an audio packet
// arrives without a timestamp of its own (spec.md §4.4).
func (d *Decoder) SetStartPts(pts int64, timeBase astiav.Rational) {
	d.startPts = pts
	d.startPtsTb = timeBase
}

// PacketEpoch returns the epoch of the last packet the decoder consumed.
func (d *Decoder) PacketEpoch() int { return d.packetEpoch }

// Finished returns the epoch at which EOF was delivered, or 0 if the
// decoder has not reached EOF at its current epoch.
func (d *Decoder) Finished() int { return d.finished }

// Decode implements the contract of §4.4's decode(out_frame): it returns
// (true, nil) when outFrame was filled, (false, nil) on EOF, and
// (false, errAborted) when the underlying queue aborted out from under a
// blocking wait; a codec that needs more input is fed further packets
// inside the call rather than reported to the caller.
func (d *Decoder) Decode(outFrame *astiav.Frame) (bool, error) {
	for {
		if d.queue.Epoch() == d.packetEpoch {
			for {
				if d.queue.Aborted() {
					return false, errAborted
				}
				err := d.codecCtx.ReceiveFrame(outFrame)
				if err == nil {
					d.recoverPts(outFrame)
					return true, nil
				}
				if errors.Is(err, astiav.ErrEof) {
					d.finished = d.packetEpoch
					d.codecCtx.FlushBuffers()
					return false, nil
				}
				if !errors.Is(err, astiav.ErrEagain) {
					return false, err
				}
				break
			}
		}

		pkt, err := d.nextPacket()
		if err != nil {
			return false, err
		}
		if pkt == nil {
			// packet belonged to a stale epoch; loop and fetch another
			continue
		}

		if pkt.IsNull() {
			if err := d.codecCtx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEagain) {
				return false, err
			}
		} else {
			if err := d.codecCtx.SendPacket(pkt.raw); err == nil {
				pkt.Release()
			} else if errors.Is(err, astiav.ErrEagain) {
				// API violation per decoder.c: receive_frame and send_packet
				// both returned EAGAIN. Defensive: keep the packet pending
				// and retry once more after another receive attempt.
				d.pending = true
				d.pendingPkt = pkt.raw
			} else {
				pkt.Release()
				return false, err
			}
		}
	}
}

// nextPacket fetches the next packet to feed the codec, handling the
// pending-retry and epoch-flush bookkeeping of decoder.c's outer do/while.
func (d *Decoder) nextPacket() (*Packet, error) {
	if d.queue.Count() == 0 {
		d.wake.Notify()
	}

	var pkt *Packet
	if d.pending {
		d.pending = false
		pkt = &Packet{raw: d.pendingPkt}
		d.pendingPkt = nil
	} else {
		oldEpoch := d.packetEpoch
		p, epoch, ok := d.queue.Get(true)
		if !ok {
			return nil, errAborted
		}
		pkt = p
		d.packetEpoch = epoch
		if oldEpoch != d.packetEpoch {
			d.codecCtx.FlushBuffers()
			d.finished = 0
			d.nextPts = d.startPts
			d.nextPtsTb = d.startPtsTb
		}
	}

	if d.queue.Epoch() != d.packetEpoch {
		pkt.Release()
		return nil, nil
	}
	return pkt, nil
}

// recoverPts fills in a frame's presentation timestamp, since containers
// frequently omit it on some or all frames (spec.md §4.4).
func (d *Decoder) recoverPts(frame *astiav.Frame) {
	switch d.mediaType {
	case astiav.MediaTypeVideo:
		if d.reorderPts {
			frame.SetPts(frame.BestEffortTimestamp())
		} else {
			frame.SetPts(frame.PktDts())
		}
	case astiav.MediaTypeAudio:
		timeBase := astiav.NewRational(1, frame.SampleRate())
		switch {
		case frame.Pts() != astiav.NoPtsValue:
			frame.SetPts(astiav.RescaleQ(frame.Pts(), d.codecCtx.TimeBase(), timeBase))
		case d.nextPts != astiav.NoPtsValue:
			frame.SetPts(astiav.RescaleQ(d.nextPts, d.nextPtsTb, timeBase))
		}
		if frame.Pts() != astiav.NoPtsValue {
			d.nextPts = frame.Pts() + int64(frame.NbSamples())
			d.nextPtsTb = timeBase
		}
	}
}

// Abort aborts the packet queue, wakes any frame-queue waiters, and should
// be followed by joining the decoder's worker goroutine; flushing the
// packet queue is the caller's responsibility once the goroutine has
// returned (mirrors ff_decoder_abort's ordering, split across Player.Close
// so the goroutine lifecycle stays in one place: see player.go).
func (d *Decoder) Abort(frameQueue *FrameQueue) {
	d.queue.Abort()
	frameQueue.Signal()
}
