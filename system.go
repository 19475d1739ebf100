package opx

import (
	"fmt"

	"github.com/nathanpbutler/libopx-sub002/klv"
	"github.com/nathanpbutler/libopx-sub002/timecode"
)

// System packet value layout, SMPTE 331M system metadata pack:
// bitmap(1), content package rate(1), content package type(1),
// channel handle(2), continuity count(2), essence UL(16), then the
// 8 byte timecode element whose first 4 bytes are the BCD timecode.
const (
	systemRateByteOffset  = 1
	systemTimecodeOffset  = 23
	systemMetadataMinSize = systemTimecodeOffset + 8
)

// systemMetadataOffset returns the sub-offset of the 4 byte SMPTE
// timecode field within a system packet value of the given length.
func systemMetadataOffset(length int64) (int64, error) {
	if length < systemMetadataMinSize {
		return 0, &klv.StructuralError{
			Msg: fmt.Sprintf("system packet value of %v bytes cannot hold the %v byte metadata pack",
				length, systemMetadataMinSize)}
	}
	return systemTimecodeOffset, nil
}

// content package rate byte: bits 4-0 carry the base rate code,
// bit 5 the 1.001 flag
var rateCodes = map[byte]int{
	0x02: 24,
	0x03: 25,
	0x04: 30,
	0x05: 48,
	0x06: 50,
	0x07: 60,
}

// rateFromByte decodes the content package rate byte into the nominal
// timebase and whether the stream runs at the 1.001 fractional rate.
func rateFromByte(b byte) (timebase int, fractional bool, err error) {
	timebase, ok := rateCodes[b&0x1f]
	if !ok {
		return 0, false, &klv.StructuralError{
			Msg: fmt.Sprintf("unknown content package rate code 0x%02x", b&0x1f)}
	}
	return timebase, b&0x20 != 0, nil
}

// parseSystemTimecode decodes the embedded SMPTE timecode of a system
// packet value, using the pack's own rate byte for the timebase.
func parseSystemTimecode(value []byte, offset int64) (timecode.Timecode, error) {
	if int64(len(value)) < systemMetadataMinSize {
		return timecode.Timecode{}, &klv.StructuralError{Offset: offset,
			Msg: fmt.Sprintf("system packet value of %v bytes cannot hold the %v byte metadata pack",
				len(value), systemMetadataMinSize)}
	}

	timebase, _, err := rateFromByte(value[systemRateByteOffset])
	if err != nil {
		return timecode.Timecode{}, err
	}

	var field [4]byte
	copy(field[:], value[systemTimecodeOffset:systemTimecodeOffset+4])
	tc, err := timecode.FromBytes(field, timebase)
	if err != nil {
		return timecode.Timecode{}, &klv.StructuralError{Offset: offset,
			Msg: "system packet carries an invalid timecode", Err: err}
	}
	return tc, nil
}
