package avcore

import "github.com/asticode/go-astiav"

// Packet is a reference-counted compressed access unit as described in
// spec.md §3. Payload ownership follows go-astiav's *astiav.Packet
// lifecycle: Free() must be called exactly once, whether the packet is
// consumed by a decoder or dropped by the demuxer.
type Packet struct {
	StreamIndex int
	Pts         int64
	Dts         int64
	Duration    int64
	Pos         int64
	Size        int
	Epoch       int // stamped by PacketQueue.Put at enqueue time

	null bool // sentinel: end-of-stream marker, no payload
	raw  *astiav.Packet
}

// Release frees the underlying astiav packet, if any. Safe to call on a
// null packet (a no-op in that case).
func (p *Packet) Release() {
	if p.raw != nil {
		p.raw.Free()
		p.raw = nil
	}
}

// IsNull reports whether this is the null-packet sentinel used to signal
// end-of-stream to a decoder for a given stream index (spec.md §3, §4.5f).
func (p *Packet) IsNull() bool { return p.null }

// newNullPacket builds the EOF sentinel for streamIndex.
func newNullPacket(streamIndex int) *Packet {
	return &Packet{StreamIndex: streamIndex, null: true}
}

// newPacket wraps a decoded astiav.Packet, copying out the fields the queue
// and decoder need and taking ownership of raw (the caller must not free it).
func newPacket(raw *astiav.Packet) *Packet {
	return &Packet{
		StreamIndex: raw.StreamIndex(),
		Pts:         raw.Pts(),
		Dts:         raw.Dts(),
		Duration:    raw.Duration(),
		Pos:         raw.Pos(),
		Size:        raw.Size(),
		raw:         raw,
	}
}
