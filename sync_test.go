package avcore

import (
	"math"
	"testing"
)

func TestSynchronizerMasterClockDegradesWithoutVideo(t *testing.T) {
	audio := NewClock(nil)
	video := NewClock(nil)
	external := NewClock(nil)
	audio.Set(1.0, 0)
	video.Set(2.0, 0)
	external.Set(3.0, 0)

	s := newSynchronizer(SyncVideoMaster, audio, video, external)
	if got := s.MasterClock(false, true); math.Abs(got-3.0) > 0.05 {
		t.Fatalf("video-master mode without a video stream should degrade to the external clock, got %v", got)
	}
}

func TestComputeTargetDelayClampsToZeroWhenVideoBehind(t *testing.T) {
	audio := NewClock(nil)
	video := NewClock(nil)
	external := NewClock(nil)
	audio.Set(10.0, 0)
	video.Set(9.0, 0) // video is 1s behind audio: way beyond the sync thresholds

	s := newSynchronizer(SyncAudioMaster, audio, video, external)
	delay := s.ComputeTargetDelay(0.04, true, true)
	if delay != 0 {
		t.Fatalf("a video-behind-master diff larger than the delay should shrink it to 0, got %v", delay)
	}
}

func TestSynchronizeAudioReturnsUnchangedUnderAudioMaster(t *testing.T) {
	audio := NewClock(nil)
	video := NewClock(nil)
	external := NewClock(nil)
	s := newSynchronizer(SyncAudioMaster, audio, video, external)
	if got := s.SynchronizeAudio(1024, 48000, true, true); got != 1024 {
		t.Fatalf("AUDIO_MASTER mode should never adjust the sample count, got %d", got)
	}
}

func TestSynchronizeAudioIgnoresLargeDiff(t *testing.T) {
	audio := NewClock(nil)
	video := NewClock(nil)
	external := NewClock(nil)
	audio.Set(100.0, 0)
	video.Set(0.0, 0) // 100s apart: beyond AV_NOSYNC_THRESHOLD

	s := newSynchronizer(SyncVideoMaster, audio, video, external)
	s.SetAudioDiffThreshold(192000, 4096)
	if got := s.SynchronizeAudio(1024, 48000, true, true); got != 1024 {
		t.Fatalf("a diff beyond AV_NOSYNC_THRESHOLD should leave the sample count unchanged, got %d", got)
	}
}

func TestCheckExternalClockSpeedSlowsDownOnStarvedQueues(t *testing.T) {
	audio := NewClock(nil)
	video := NewClock(nil)
	external := NewClock(nil)
	s := newSynchronizer(SyncExternalClock, audio, video, external)

	before := external.Speed()
	s.CheckExternalClockSpeed(true, true, 1, 1) // both queues nearly empty
	after := external.Speed()
	if !(after < before) {
		t.Fatalf("starved queues should slow the external clock down, before=%v after=%v", before, after)
	}
}

func TestNoSyncThresholdConstantIsPositive(t *testing.T) {
	if avNosyncThreshold <= 0 || math.IsNaN(avNosyncThreshold) {
		t.Fatalf("avNosyncThreshold must be a sane positive constant")
	}
}
