package avcore

import "github.com/asticode/go-astiav"

// Frame is a decoded picture or audio buffer, per spec.md §3. Video and
// audio fields coexist in one struct (mirroring ff_frame_t) rather than a
// tagged union, matching the teacher's preference for a single concrete
// type threaded through the pipeline instead of an interface per media
// type; spec.md §9 suggests a sum type as an alternative, but the queue
// that holds these (FrameQueue) is itself media-type-agnostic, so a single
// struct avoids a type switch on every queue operation.
type Frame struct {
	// Video
	Width             int
	Height            int
	SampleAspectRatio astiav.Rational

	// Audio
	SampleFormat  astiav.SampleFormat
	SampleRate    int
	ChannelLayout astiav.ChannelLayout
	NbSamples     int

	// Common
	Pts      float64 // seconds
	Duration float64 // seconds
	Pos      int64
	Epoch    int

	// Presentation scratch used by the external renderer (spec.md §3).
	Uploaded bool
	FlipV    bool

	raw *astiav.Frame
}

// Data returns the frame's decoded bytes as one packed buffer (plane 0 for
// planar audio, the full picture buffer for video), the form AudioPull and
// a texture-upload collaborator both need.
func (f *Frame) Data() ([]byte, error) {
	if f.raw == nil {
		return nil, nil
	}
	return f.raw.Data().Bytes(1)
}

// Raw exposes the underlying astiav.Frame for collaborators that need
// direct access (e.g. a software-scale texture upload path).
func (f *Frame) Raw() *astiav.Frame { return f.raw }

func (f *Frame) unref() {
	if f.raw != nil {
		f.raw.Unref()
	}
}
