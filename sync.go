package avcore

import "math"

// SyncMode selects which clock drives presentation timing (spec.md §4.6).
type SyncMode int

const (
	SyncAudioMaster SyncMode = iota
	SyncVideoMaster
	SyncExternalClock
)

const (
	avSyncThresholdMin      = 0.04
	avSyncThresholdMax      = 0.1
	avSyncFramedupThreshold = 0.1
	avNosyncThreshold       = 10.0

	audioDiffAvgNb            = 20
	sampleCorrectionPercentMax = 10

	externalClockMinFrames = 2
	externalClockMaxFrames = 10
	externalClockSpeedMin  = 0.900
	externalClockSpeedMax  = 1.010
	externalClockSpeedStep = 0.001
)

// synchronizer coordinates the audio, video and external clocks and holds
// the drift-correction state machines of spec.md §4.6: ffplayer.c's
// get_master_clock / compute_target_delay / synchronize_audio /
// check_external_clock_speed.
type synchronizer struct {
	mode SyncMode

	audioClock    *Clock
	videoClock    *Clock
	externalClock *Clock

	// audio drift EMA state (synchronize_audio)
	audioDiffAvgCoef float64
	audioDiffCum     float64
	audioDiffAvgCount int
	audioDiffThreshold float64

	// frame-drop counters (frame_drops_early/late); no method in this
	// package reads or updates them
	frameDropsEarly int
	frameDropsLate  int

	// maxFrameDuration is max_frame_duration: 10s for discontinuous
	// containers, else 3600s (set once from AVFMT_TS_DISCONT at open time,
	// ff_player.c:1224). It is the diff clamp ComputeTargetDelay uses --
	// distinct from the fixed avNosyncThreshold constant above, which
	// SynchronizeAudio uses; Clock.SyncToSlave's callers in player.go pass
	// their own noSyncThreshold constant (also 10s).
	maxFrameDuration float64
}

func newSynchronizer(mode SyncMode, audioClock, videoClock, externalClock *Clock) *synchronizer {
	return &synchronizer{
		mode:             mode,
		audioClock:       audioClock,
		videoClock:       videoClock,
		externalClock:    externalClock,
		audioDiffAvgCoef: math.Exp(math.Log(0.01) / audioDiffAvgNb),
		maxFrameDuration: 3600.0,
	}
}

// SetMaxFrameDuration installs max_frame_duration, computed once at open
// time from the container's AVFMT_TS_DISCONT flag (source.go).
func (s *synchronizer) SetMaxFrameDuration(d float64) {
	s.maxFrameDuration = d
}

// SetAudioDiffThreshold configures the minimum measurable drift, derived
// from the negotiated audio buffer size (audio_diff_threshold in
// ffplayer.c, set once audio_hw_buf_size is known).
func (s *synchronizer) SetAudioDiffThreshold(bytesPerSec float64, hwBufSize int) {
	s.audioDiffThreshold = float64(hwBufSize) / bytesPerSec
}

// MasterClock returns the presentation clock selected by the active mode,
// degrading AUDIO_MASTER/VIDEO_MASTER to EXTERNAL_CLOCK when the preferred
// stream isn't present (spec.md §4.6's degradation rule).
func (s *synchronizer) MasterClock(hasVideo, hasAudio bool) float64 {
	switch s.mode {
	case SyncVideoMaster:
		if hasVideo {
			return s.videoClock.Get()
		}
		return s.externalClock.Get()
	case SyncAudioMaster:
		if hasAudio {
			return s.audioClock.Get()
		}
		return s.externalClock.Get()
	default:
		return s.externalClock.Get()
	}
}

// EffectiveMode returns the mode actually in force once degradation is
// applied, used by callers that need to branch on "is video the master".
func (s *synchronizer) EffectiveMode(hasVideo, hasAudio bool) SyncMode {
	switch s.mode {
	case SyncVideoMaster:
		if hasVideo {
			return SyncVideoMaster
		}
	case SyncAudioMaster:
		if hasAudio {
			return SyncAudioMaster
		}
	}
	return SyncExternalClock
}

// ComputeTargetDelay adjusts a frame's nominal duration by the current
// video/master clock drift, once that drift exceeds a sync threshold equal
// to the delay clamped to the AV_SYNC_THRESHOLD_MIN/MAX band
// (compute_target_delay).
func (s *synchronizer) ComputeTargetDelay(delay float64, hasVideo, hasAudio bool) float64 {
	if s.EffectiveMode(hasVideo, hasAudio) == SyncVideoMaster {
		return delay
	}
	diff := s.videoClock.Get() - s.MasterClock(hasVideo, hasAudio)
	syncThreshold := math.Max(avSyncThresholdMin, math.Min(avSyncThresholdMax, delay))
	if !math.IsNaN(diff) && math.Abs(diff) < s.maxFrameDuration {
		switch {
		case diff <= -syncThreshold:
			delay = math.Max(0, delay+diff)
		case diff >= syncThreshold && delay > avSyncFramedupThreshold:
			delay += diff
		case diff >= syncThreshold:
			delay = 2 * delay
		}
	}
	return delay
}

// CheckExternalClockSpeed adjusts the external clock's playback speed based
// on the current video/audio packet queue counts, only meaningful when the
// external clock is actually the master (check_external_clock_speed).
func (s *synchronizer) CheckExternalClockSpeed(videoStreamOk, audioStreamOk bool, videoPackets, audioPackets int) {
	speed := s.externalClock.Speed()
	switch {
	case (videoStreamOk && videoPackets <= externalClockMinFrames) ||
		(audioStreamOk && audioPackets <= externalClockMinFrames):
		s.externalClock.SetSpeed(math.Max(externalClockSpeedMin, speed-externalClockSpeedStep))
	case (!videoStreamOk || videoPackets > externalClockMaxFrames) &&
		(!audioStreamOk || audioPackets > externalClockMaxFrames):
		s.externalClock.SetSpeed(math.Min(externalClockSpeedMax, speed+externalClockSpeedStep))
	default:
		if speed != 1.0 {
			step := externalClockSpeedStep
			if speed > 1.0 {
				step = -step
			}
			s.externalClock.SetSpeed(speed + step)
		}
	}
}

// SynchronizeAudio computes the drift-corrected sample count to resample
// audioSamples down or up to, tracking an exponential moving average of the
// audio/master clock difference (synchronize_audio). It returns
// audioSamples unchanged until the EMA has accumulated enough history or
// the mode is AUDIO_MASTER (nothing to correct against).
func (s *synchronizer) SynchronizeAudio(audioSamples int, sampleRate int, hasVideo, hasAudio bool) int {
	if s.EffectiveMode(hasVideo, hasAudio) == SyncAudioMaster {
		s.audioDiffAvgCount = 0
		return audioSamples
	}

	diff := s.audioClock.Get() - s.MasterClock(hasVideo, hasAudio)
	if math.IsNaN(diff) || math.Abs(diff) >= avNosyncThreshold {
		s.audioDiffAvgCount = 0
		return audioSamples
	}

	s.audioDiffCum = diff + s.audioDiffAvgCoef*s.audioDiffCum
	if s.audioDiffAvgCount < audioDiffAvgNb {
		s.audioDiffAvgCount++
		return audioSamples
	}

	avgDiff := s.audioDiffCum * (1.0 - s.audioDiffAvgCoef)
	if math.Abs(avgDiff) < s.audioDiffThreshold {
		return audioSamples
	}

	wanted := audioSamples + int(diff*float64(sampleRate))
	minNb := audioSamples * (100 - sampleCorrectionPercentMax) / 100
	maxNb := audioSamples * (100 + sampleCorrectionPercentMax) / 100
	if wanted < minNb {
		wanted = minNb
	}
	if wanted > maxNb {
		wanted = maxNb
	}
	return wanted
}
