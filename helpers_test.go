package opx

import (
	"encoding/binary"
	"io"

	"github.com/nathanpbutler/libopx-sub002/timecode"
)

// memFile is an in memory read/write/seek stream for the restripe
// tests, behaving like a file opened for update.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[m.pos:], p)
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 1:
		offset += m.pos
	case 2:
		offset += int64(len(m.data))
	}
	m.pos = offset
	return m.pos, nil
}

// testContainer builds a minimal but structurally accurate OP-1a
// stream: header partition pack, a fill item, frames of system plus
// data essence and a footer partition, optionally carrying an index
// table over the body.
type testContainer struct {
	frames int
	start  timecode.Timecode
	// content package rate byte, 0x03 (25 fps) when unset
	rateByte byte
	// one data payload per frame, a fixed 32 byte payload when unset
	payloads [][]byte
	withAV   bool
	// "cbe", "vbe" or "" for a footer with no index table
	index string
}

func (tc *testContainer) build() []byte {
	if tc.rateByte == 0 {
		tc.rateByte = 0x03
	}
	if tc.start.Timebase == 0 {
		tc.start, _ = timecode.New(10, 0, 0, 0, 25, false)
	}

	var buf []byte

	// header partition pack, footer offset patched in at the end
	headerPack := make([]byte, 64)
	binary.BigEndian.PutUint16(headerPack[0:2], 1)
	binary.BigEndian.PutUint32(headerPack[4:8], 1)
	buf = appendUnit(buf, partitionKey(0x02, 0x01), headerPack)
	headerValueStart := int64(len(buf) - 64)

	buf = appendUnit(buf, ulFillVersions[0], make([]byte, 16))

	bodyStart := len(buf)
	frameOffsets := make([]uint64, tc.frames)
	for i := 0; i < tc.frames; i++ {
		frameOffsets[i] = uint64(len(buf) - bodyStart)

		buf = appendUnit(buf, ULSystemGC, systemValue(tc.start.AddFrames(i), tc.rateByte))
		buf = appendUnit(buf, ULDataVBI, tc.payload(i))
		if tc.withAV {
			buf = appendUnit(buf, ULVideoMPEG, make([]byte, 48))
			buf = appendUnit(buf, ULAudioAES, make([]byte, 24))
		}
	}

	footerOffset := len(buf)

	var indexUnit []byte
	switch tc.index {
	case "cbe":
		frameSize := uint32(0)
		if tc.frames > 1 {
			frameSize = uint32(frameOffsets[1] - frameOffsets[0])
		} else if tc.frames == 1 {
			frameSize = uint32(footerOffset - bodyStart)
		}
		indexUnit = appendUnit(nil, ULIndexTableSegment, indexSegmentSet(tc.frames, frameSize, nil))
	case "vbe":
		indexUnit = appendUnit(nil, ULIndexTableSegment, indexSegmentSet(tc.frames, 0, frameOffsets))
	}

	footerPack := make([]byte, 64)
	binary.BigEndian.PutUint16(footerPack[0:2], 1)
	binary.BigEndian.PutUint32(footerPack[4:8], 1)
	binary.BigEndian.PutUint64(footerPack[8:16], uint64(footerOffset))
	binary.BigEndian.PutUint64(footerPack[24:32], uint64(footerOffset))
	binary.BigEndian.PutUint64(footerPack[40:48], uint64(len(indexUnit)))
	binary.BigEndian.PutUint32(footerPack[48:52], 1)
	buf = appendUnit(buf, partitionKey(0x04, 0x02), footerPack)
	buf = append(buf, indexUnit...)

	if tc.index != "" {
		binary.BigEndian.PutUint64(buf[headerValueStart+24:headerValueStart+32], uint64(footerOffset))
	}

	return buf
}

func (tc *testContainer) payload(frame int) []byte {
	if tc.payloads == nil {
		return make([]byte, 32)
	}
	return tc.payloads[frame%len(tc.payloads)]
}

// appendUnit appends a KLV unit with a short or 4 byte long form BER
// length field.
func appendUnit(buf []byte, key [16]byte, value []byte) []byte {
	buf = append(buf, key[:]...)
	if len(value) <= 127 {
		buf = append(buf, byte(len(value)))
	} else {
		buf = append(buf, 0x83, byte(len(value)>>16), byte(len(value)>>8), byte(len(value)))
	}
	return append(buf, value...)
}

// systemValue builds a 57 byte system metadata pack with the rate byte
// and embedded timecode in place.
func systemValue(tc timecode.Timecode, rateByte byte) []byte {
	v := make([]byte, 57)
	v[0] = 0x5c
	v[1] = rateByte
	field := tc.Bytes()
	copy(v[23:27], field[:])
	return v
}

// indexSegmentSet encodes an index table segment local set, constant
// size when byteCount is non zero, otherwise an entry array over the
// given stream offsets.
func indexSegmentSet(duration int, byteCount uint32, offsets []uint64) []byte {
	var set []byte

	item := func(tag uint16, value []byte) {
		var head [4]byte
		binary.BigEndian.PutUint16(head[0:2], tag)
		binary.BigEndian.PutUint16(head[2:4], uint16(len(value)))
		set = append(set, head[:]...)
		set = append(set, value...)
	}

	rate := make([]byte, 8)
	binary.BigEndian.PutUint32(rate[0:4], 25)
	binary.BigEndian.PutUint32(rate[4:8], 1)
	item(tagIndexEditRate, rate)

	item(tagIndexStartPosition, make([]byte, 8))

	dur := make([]byte, 8)
	binary.BigEndian.PutUint64(dur, uint64(duration))
	item(tagIndexDuration, dur)

	if byteCount != 0 {
		euSize := make([]byte, 4)
		binary.BigEndian.PutUint32(euSize, byteCount)
		item(tagEditUnitByteCount, euSize)
	} else {
		batch := make([]byte, 8+11*len(offsets))
		binary.BigEndian.PutUint32(batch[0:4], uint32(len(offsets)))
		binary.BigEndian.PutUint32(batch[4:8], 11)
		for i, off := range offsets {
			binary.BigEndian.PutUint64(batch[8+i*11+3:8+i*11+11], off)
		}
		item(tagIndexEntryArray, batch)
	}

	return set
}

func mustTimecode(h, m, s, f, timebase int, drop bool) timecode.Timecode {
	tc, err := timecode.New(h, m, s, f, timebase, drop)
	if err != nil {
		panic(err)
	}
	return tc
}
