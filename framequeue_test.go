package avcore

import "testing"

func TestFrameQueuePushAndNext(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start()
	fq := NewFrameQueue(pq, 3, false)

	frame, ok := fq.PeekWritable()
	if !ok {
		t.Fatalf("PeekWritable should succeed on a started, non-full queue")
	}
	frame.Pts = 1.0
	fq.Push()

	if fq.FramesRemaining() != 1 {
		t.Fatalf("expected 1 remaining frame after one Push, got %d", fq.FramesRemaining())
	}

	readable, ok := fq.PeekReadable()
	if !ok || readable.Pts != 1.0 {
		t.Fatalf("PeekReadable should return the frame just pushed")
	}
	fq.Next()
	if fq.FramesRemaining() != 0 {
		t.Fatalf("expected 0 remaining frames after Next, got %d", fq.FramesRemaining())
	}
}

func TestFrameQueueKeepLastDelaysConsumption(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start()
	fq := NewFrameQueue(pq, 3, true)

	frame, _ := fq.PeekWritable()
	frame.Pts = 5.0
	fq.Push()

	if fq.RindexShown() {
		t.Fatalf("a freshly pushed frame should not be marked shown yet")
	}
	fq.Next() // first Next with keepLast only flips rindexShown
	if !fq.RindexShown() {
		t.Fatalf("keepLast queue should mark the frame shown instead of freeing its slot")
	}
	if fq.PeekLast().Pts != 5.0 {
		t.Fatalf("PeekLast should still return the shown frame")
	}
}

func TestFrameQueueAbortUnblocksPeekWritable(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start()
	fq := NewFrameQueue(pq, 1, false)

	frame, _ := fq.PeekWritable()
	frame.Pts = 1.0
	fq.Push() // queue is now full (capacity 1)

	done := make(chan bool)
	go func() {
		_, ok := fq.PeekWritable()
		done <- ok
	}()

	pq.Abort()
	fq.Signal()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("PeekWritable should report ok=false once the companion queue aborts")
		}
	}
}
