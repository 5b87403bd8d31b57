package avcore

import "errors"

// Sentinel errors. Open() returns ErrNoStreams and ErrNilAudioSink; the
// others are declared but no function in this package returns them.
// Format-specific errors bubbling up from go-astiav are also possible and
// are not wrapped into these.
var (
	ErrNoStreams       = errors.New("avcore: container has no audio or video stream")
	ErrNilAudioSink    = errors.New("avcore: audio stream present but no AudioOpener was configured")
	ErrBadSampleRate   = errors.New("avcore: audio device sample rate does not match what AudioOpener negotiated")
	ErrTooManyChannels = errors.New("avcore: audio streams with more than 2 channels are not supported")
	ErrUnsupportedSeek = errors.New("avcore: seek is unsupported on this source")
	ErrClosed          = errors.New("avcore: player already closed")
)
