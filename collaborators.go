package avcore

import "github.com/asticode/go-astiav"

// VideoMetaFunc is invoked once, from Open, with the geometry reported by
// the opened video codec context, so the host can size its presentation
// surface before the first frame arrives (spec.md §6's on_video_meta).
type VideoMetaFunc func(width, height int, sampleAspectRatio astiav.Rational)

// AudioOpener opens a playback device for the given source audio
// parameters and returns the device's negotiated parameters, which may
// differ from what was requested (spec.md §6's on_audio_meta / audio
// device negotiation). A nil AudioOpener is only valid when the source has
// no audio stream; Open returns ErrNilAudioSink otherwise.
type AudioOpener func(channelLayout astiav.ChannelLayout, sampleRate int) (AudioParams, error)

// ErrorFunc is invoked at most once, when the reader goroutine exits due to
// an unrecoverable error (spec.md §6's on_error, §7's error classes).
type ErrorFunc func(err error)
