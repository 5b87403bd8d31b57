package avcore

import "sync"

// packetEntryOverhead approximates the fixed per-entry bookkeeping cost the
// original adds on top of the raw packet payload size (sizeof(packet_t) in
// packet_queue.c), so PacketQueue.SizeBytes reflects the same backpressure
// signal the demuxer's MAX_QUEUE_SIZE check is tuned against.
const packetEntryOverhead = 64

// PacketQueue is a bounded FIFO of compressed Packets with an epoch stamp,
// as described in spec.md §3/§4.2. It is the Go port of packet_queue.c,
// using sync.Mutex + sync.Cond in place of the original's mtx_t/cnd_t pair.
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	packets  []*Packet
	count    int
	size     int
	duration int64
	epoch    int
	aborted  bool
}

// NewPacketQueue creates a queue. It starts aborted, matching
// ff_packet_queue_create (the caller must call Start before use).
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{aborted: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Epoch returns the live epoch. Safe to call from any goroutine; this is
// the accessor Clock binds to as its epoch source (spec.md §9).
func (q *PacketQueue) Epoch() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Aborted reports whether Abort has been called since the last Start.
func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Count returns the number of queued packets.
func (q *PacketQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// SizeBytes returns the sum of payload sizes plus per-entry overhead, the
// exact quantity spec.md's invariant 3 describes.
func (q *PacketQueue) SizeBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// DurationTicks returns the sum of the stream-timebase durations of queued
// packets.
func (q *PacketQueue) DurationTicks() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Start clears the aborted flag and increments the epoch, matching
// ff_packet_queue_start.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = false
	q.epoch++
}

// Abort sets the aborted flag and wakes every blocked reader/writer.
// Subsequent Get calls return ok=false immediately.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Flush drains all queued packets (releasing them), zeroes the counters and
// increments the epoch so any frame produced before the flush is
// recognizable as stale by its stamped epoch.
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.packets {
		p.Release()
	}
	q.packets = nil
	q.count = 0
	q.size = 0
	q.duration = 0
	q.epoch++
}

// Put enqueues pkt, stamping it with the queue's current epoch. Returns
// false if the queue is aborted, in which case the caller retains ownership
// of pkt (and should Release it).
func (q *PacketQueue) Put(pkt *Packet) bool {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return false
	}
	pkt.Epoch = q.epoch
	q.packets = append(q.packets, pkt)
	q.count++
	q.size += pkt.Size + packetEntryOverhead
	q.duration += pkt.Duration
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// PutNull enqueues the null-packet sentinel for streamIndex, signalling
// end-of-stream to whichever decoder drains this queue.
func (q *PacketQueue) PutNull(streamIndex int) bool {
	return q.Put(newNullPacket(streamIndex))
}

// Get removes and returns the head packet. If block is true and the queue
// is empty and not aborted, Get waits. ok is false when the queue was (or
// became) aborted; the returned packet is then nil.
func (q *PacketQueue) Get(block bool) (pkt *Packet, epoch int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.aborted {
			return nil, 0, false
		}
		if len(q.packets) > 0 {
			pkt = q.packets[0]
			q.packets[0] = nil
			q.packets = q.packets[1:]
			q.count--
			q.size -= pkt.Size + packetEntryOverhead
			q.duration -= pkt.Duration
			return pkt, pkt.Epoch, true
		}
		if !block {
			return nil, 0, false
		}
		q.cond.Wait()
	}
}
