package avcore

import (
	"testing"
	"time"
)

func TestPacketQueueStartsAborted(t *testing.T) {
	q := NewPacketQueue()
	if !q.Aborted() {
		t.Fatalf("a fresh queue should start aborted until Start is called")
	}
	if _, _, ok := q.Get(false); ok {
		t.Fatalf("Get on an aborted queue should never succeed")
	}
}

func TestPacketQueuePutGetOrder(t *testing.T) {
	q := NewPacketQueue()
	q.Start()

	p1 := &Packet{StreamIndex: 0, Size: 10}
	p2 := &Packet{StreamIndex: 0, Size: 20}
	if !q.Put(p1) || !q.Put(p2) {
		t.Fatalf("Put should succeed on a started queue")
	}
	if q.Count() != 2 {
		t.Fatalf("expected 2 queued packets, got %d", q.Count())
	}

	got, epoch, ok := q.Get(false)
	if !ok || got != p1 {
		t.Fatalf("expected FIFO order to return p1 first")
	}
	if epoch != q.Epoch() {
		t.Fatalf("returned epoch should match the queue's live epoch")
	}
}

func TestPacketQueueFlushResetsCountersAndBumpsEpoch(t *testing.T) {
	q := NewPacketQueue()
	q.Start()
	epochBefore := q.Epoch()
	q.Put(&Packet{Size: 5})
	q.Flush()
	if q.Count() != 0 || q.SizeBytes() != 0 {
		t.Fatalf("Flush should zero out count/size")
	}
	if q.Epoch() == epochBefore {
		t.Fatalf("Flush should bump the epoch so stale frames are detectable")
	}
}

func TestPacketQueueAbortUnblocksGet(t *testing.T) {
	q := NewPacketQueue()
	q.Start()

	done := make(chan struct{})
	go func() {
		_, _, ok := q.Get(true)
		if ok {
			t.Errorf("Get should return ok=false once the queue aborts")
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Abort()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Abort should wake a blocked Get")
	}
}
