package avcore

import "sync"

// FrameQueue is a fixed-capacity ring buffer of decoded Frames, as described
// in spec.md §3/§4.3. It is the Go port of ff_frame_queue.c. Slots are
// preallocated at construction (capacity 3 for video, 9 for audio, per
// spec.md §3).
type FrameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames      []Frame
	rindex      int
	windex      int
	size        int
	capacity    int
	keepLast    bool
	rindexShown int

	// packetQueue is consulted for abort checks in blocking peeks (spec.md
	// §3's "back-pointer to the owning PacketQueue").
	packetQueue *PacketQueue
}

// NewFrameQueue creates a queue of the given capacity backed by packetQueue
// for abort signalling. keepLast mirrors ff_frame_queue_create's third
// argument: when true, the most recently shown frame stays peekable after
// being consumed (used by the video picture queue for duration math).
func NewFrameQueue(packetQueue *PacketQueue, capacity int, keepLast bool) *FrameQueue {
	q := &FrameQueue{
		frames:      make([]Frame, capacity),
		capacity:    capacity,
		keepLast:    keepLast,
		packetQueue: packetQueue,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Signal wakes any goroutine blocked in PeekWritable/PeekReadable, used
// during shutdown (ff_frame_queue_signal).
func (q *FrameQueue) Signal() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Peek returns the current readable frame (the one Next() would consume).
// Only the owning reader goroutine should call this without external
// synchronization beyond the queue's own lock-free windex/size reads
// described in spec.md §5.
func (q *FrameQueue) Peek() *Frame {
	return &q.frames[(q.rindex+q.rindexShown)%q.capacity]
}

// PeekNext returns the frame after the current readable one.
func (q *FrameQueue) PeekNext() *Frame {
	return &q.frames[(q.rindex+q.rindexShown+1)%q.capacity]
}

// PeekLast returns the last-shown frame (the slot behind rindex).
func (q *FrameQueue) PeekLast() *Frame {
	return &q.frames[q.rindex]
}

// PeekWritable blocks until a slot is free or the companion PacketQueue is
// aborted, in which case ok is false.
func (q *FrameQueue) PeekWritable() (frame *Frame, ok bool) {
	q.mu.Lock()
	for q.size >= q.capacity && !q.packetQueue.Aborted() {
		q.cond.Wait()
	}
	q.mu.Unlock()
	if q.packetQueue.Aborted() {
		return nil, false
	}
	return &q.frames[q.windex], true
}

// PeekReadable blocks until a frame is available or the companion
// PacketQueue is aborted, in which case ok is false.
func (q *FrameQueue) PeekReadable() (frame *Frame, ok bool) {
	q.mu.Lock()
	for q.size-q.rindexShown <= 0 && !q.packetQueue.Aborted() {
		q.cond.Wait()
	}
	q.mu.Unlock()
	if q.packetQueue.Aborted() {
		return nil, false
	}
	return &q.frames[(q.rindex+q.rindexShown)%q.capacity], true
}

// Push advances the write cursor after the caller has filled the slot
// returned by PeekWritable.
func (q *FrameQueue) Push() {
	q.windex++
	if q.windex == q.capacity {
		q.windex = 0
	}
	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	q.cond.Signal()
}

// Next advances the read cursor. With keepLast, the first post-show call
// only flips rindexShown without advancing, so PeekLast keeps returning the
// frame that was just displayed.
func (q *FrameQueue) Next() {
	if q.keepLast && q.rindexShown == 0 {
		q.rindexShown = 1
		return
	}
	q.frames[q.rindex].unref()
	q.rindex++
	if q.rindex == q.capacity {
		q.rindex = 0
	}
	q.mu.Lock()
	q.size--
	q.mu.Unlock()
	q.cond.Signal()
}

// FramesRemaining is size - rindexShown, the count of frames not yet shown.
func (q *FrameQueue) FramesRemaining() int {
	return q.size - q.rindexShown
}

// LastPos returns the byte position of the last-shown frame if its epoch
// still matches the companion PacketQueue's live epoch, else -1.
func (q *FrameQueue) LastPos() int64 {
	f := &q.frames[q.rindex]
	if q.rindexShown != 0 && f.Epoch == q.packetQueue.Epoch() {
		return f.Pos
	}
	return -1
}

// RindexShown reports whether the slot behind rindex currently holds a
// shown frame (keepLast semantics).
func (q *FrameQueue) RindexShown() bool {
	return q.rindexShown != 0
}

// Close releases every slot's underlying decoded frame. Call once, after
// the goroutine that writes to this queue has stopped.
func (q *FrameQueue) Close() {
	for i := range q.frames {
		q.frames[i].unref()
		if q.frames[i].raw != nil {
			q.frames[i].raw.Free()
			q.frames[i].raw = nil
		}
	}
}
