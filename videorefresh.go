package avcore

import "math"

// videoRefresh holds the frame-timer state that AcquireVideoFrame advances
// across calls (video_refresh's statics in ffplayer.c).
type videoRefresh struct {
	frameTimer   float64
	forceRefresh bool

	// maxFrameDuration is max_frame_duration (spec.md §4.6), threaded in by
	// Player.Open from source.go's AVFMT_TS_DISCONT detection. Zero (the
	// struct's unset value, as in this package's tests) is treated as the
	// common 3600s non-discontinuous case.
	maxFrameDuration float64
}

// RefreshResult tells the caller what, if anything, changed about the
// currently displayable frame (spec.md §4.7).
type RefreshResult struct {
	// HasFrame is false when there is nothing to show yet (empty queue).
	HasFrame bool
	// Frame is the frame to present, valid only when HasFrame is true.
	Frame *Frame
	// Dropped is true when a frame was skipped to catch up to the master
	// clock instead of being displayed.
	Dropped bool
}

// AcquireVideoFrame is the Go port of video_refresh: it decides, given the
// current state of the video FrameQueue and the active sync mode, which
// frame (if any) should be presented now, updates remainingTime with how
// long the caller should wait before calling again, and advances the frame
// timer. paused/step and the single-step-then-pause transition are owned by
// the caller (Player), which passes its current step flag in and receives
// the updated flag back.
func (r *videoRefresh) AcquireVideoFrame(
	queue *FrameQueue,
	sync *synchronizer,
	hasVideo, hasAudio bool,
	paused bool,
	step bool,
	remainingTime *float64,
) (result RefreshResult, nextStep bool) {
	nextStep = step

	for {
		if queue.FramesRemaining() == 0 {
			return RefreshResult{}, nextStep
		}

		lastFrame := queue.PeekLast()
		frame := queue.Peek()

		if frame.Epoch != queue.packetQueue.Epoch() {
			queue.Next()
			r.forceRefresh = true
			continue
		}

		if lastFrame.Epoch != frame.Epoch {
			r.frameTimer = nowSeconds()
		}

		if paused {
			break
		}

		lastDuration := r.frameDuration(lastFrame, frame)
		delay := sync.ComputeTargetDelay(lastDuration, hasVideo, hasAudio)

		now := nowSeconds()
		if now < r.frameTimer+delay {
			*remainingTime = math.Min(r.frameTimer+delay-now, *remainingTime)
			break
		}

		r.frameTimer += delay
		if delay > 0 && now-r.frameTimer > avSyncThresholdMax {
			r.frameTimer = now
		}

		if queue.FramesRemaining() > 1 {
			nextFrame := queue.PeekNext()
			duration := r.frameDuration(frame, nextFrame)
			if !step && sync.EffectiveMode(hasVideo, hasAudio) != SyncVideoMaster &&
				now > r.frameTimer+duration {
				result.Dropped = true
				queue.Next()
				continue
			}
		}

		queue.Next()
		r.forceRefresh = true

		if step && !paused {
			nextStep = false
		}
		break
	}

	if r.forceRefresh && queue.RindexShown() {
		r.forceRefresh = false
		return RefreshResult{HasFrame: true, Frame: queue.PeekLast()}, nextStep
	}
	return RefreshResult{}, nextStep
}

// frameDuration computes the presentation duration of vp relative to the
// frame that follows it (nextvp): zero across an epoch change, vp.Duration
// on non-monotonic or absurd deltas (compute_duration in ffplayer.c, renamed
// to avoid colliding with Frame.Duration).
func (r *videoRefresh) frameDuration(vp, nextvp *Frame) float64 {
	if vp.Epoch != nextvp.Epoch {
		return 0
	}
	maxDuration := r.maxFrameDuration
	if maxDuration <= 0 {
		maxDuration = 3600
	}
	duration := nextvp.Pts - vp.Pts
	if math.IsNaN(duration) || duration <= 0 || duration > maxDuration {
		return vp.Duration
	}
	return duration
}
