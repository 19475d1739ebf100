package opx

import (
	"github.com/nathanpbutler/libopx-sub002/timecode"
)

// Line is one decoded line of data essence, teletext style addressing
// plus the payload bytes.
type Line struct {
	Magazine int
	Row      int
	Data     []byte
}

// Packet is one frame's worth of essence, grouped by the system packet
// boundary that precedes it in the interleave. Data payloads the
// caller asked for are decoded into Lines, other required essence is
// carried raw, grouped by key type.
type Packet struct {
	Timecode timecode.Timecode
	Lines    []Line
	Essence  map[KeyType][][]byte
}

func newPacket(tc timecode.Timecode) *Packet {
	return &Packet{Timecode: tc, Essence: make(map[KeyType][][]byte)}
}

// LineDecoder turns a raw data essence payload into lines. The signal
// level decoding (T42, VBI, ancillary packets) lives outside this
// module, a decoder is injected where one is wanted. A decode failure
// is not fatal: the packet simply carries no lines for that payload.
type LineDecoder interface {
	DecodeLines(payload []byte) ([]Line, error)
}

// LineDecoderFunc adapts a plain function to the LineDecoder interface.
type LineDecoderFunc func(payload []byte) ([]Line, error)

// DecodeLines calls f.
func (f LineDecoderFunc) DecodeLines(payload []byte) ([]Line, error) {
	return f(payload)
}

// Discontinuity is one break in the system timecode progression of a
// file: packet Index carried Found where Expected would have continued
// the sequence.
type Discontinuity struct {
	Index    int
	Expected timecode.Timecode
	Found    timecode.Timecode
}

// Continuity checks that consecutive system timecodes each advance by
// exactly one frame, returning every break. Discontinuities are
// legitimate in spliced source material, so they are reported rather
// than failed on.
func Continuity(timecodes []timecode.Timecode) []Discontinuity {
	var breaks []Discontinuity
	for i := 1; i < len(timecodes); i++ {
		expected := timecodes[i-1].AddFrames(1)
		if !timecodes[i].Equal(expected) {
			breaks = append(breaks, Discontinuity{Index: i, Expected: expected, Found: timecodes[i]})
		}
	}
	return breaks
}
