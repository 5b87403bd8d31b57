package avcore

import "testing"

func TestAcquireVideoFrameDropsStaleEpochFrames(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start() // epoch is now 1
	fq := NewFrameQueue(pq, 3, true)

	frame, _ := fq.PeekWritable()
	frame.Epoch = 0 // stale: queue is already at epoch 1
	frame.Pts = 1.0
	fq.Push()

	audio := NewClock(nil)
	video := NewClock(pq.Epoch)
	external := NewClock(nil)
	s := newSynchronizer(SyncExternalClock, audio, video, external)

	var r videoRefresh
	remaining := 1.0
	result, _ := r.AcquireVideoFrame(fq, s, true, false, false, false, &remaining)
	if result.HasFrame {
		t.Fatalf("a stale-epoch frame should be dropped, not displayed")
	}
	if fq.FramesRemaining() != 0 {
		t.Fatalf("the stale frame should have been consumed")
	}
}

func TestAcquireVideoFrameDisplaysFrameOnceItsDelayElapses(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start()
	fq := NewFrameQueue(pq, 3, true)

	frame, _ := fq.PeekWritable()
	frame.Epoch = pq.Epoch()
	frame.Pts = 1.0
	frame.Duration = 1.0 / 30
	fq.Push()

	audio := NewClock(nil)
	video := NewClock(pq.Epoch)
	external := NewClock(nil)
	s := newSynchronizer(SyncExternalClock, audio, video, external)

	r := videoRefresh{frameTimer: nowSeconds() - 10} // far in the past: delay has long elapsed
	remaining := 1.0
	result, _ := r.AcquireVideoFrame(fq, s, true, false, false, false, &remaining)
	if !result.HasFrame {
		t.Fatalf("a due frame should be displayed")
	}
	if result.Frame.Pts != 1.0 {
		t.Fatalf("expected the displayed frame's pts to be 1.0, got %v", result.Frame.Pts)
	}
}
