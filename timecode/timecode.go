// Package timecode implements the SMPTE timecode value type used to
// stamp and restripe MXF content packages. Values are immutable,
// arithmetic is frame-rate aware and understands the drop-frame
// counting rules.
package timecode

import (
	"fmt"
)

// Timecode is an immutable hours:minutes:seconds:frames value at a
// given integer timebase. Equality and ordering are by the normalised
// frame count since 00:00:00:00.
type Timecode struct {
	Hours, Minutes, Seconds, Frames int
	// Timebase is the nominal integer frame rate, e.g. 25 or 30.
	Timebase int
	// DropFrame marks 1000/1001 rates that skip frame numbers at
	// minute boundaries. Only meaningful for timebases divisible by 30.
	DropFrame bool
}

// New validates and builds a timecode value.
func New(hours, minutes, seconds, frames, timebase int, dropFrame bool) (Timecode, error) {
	if timebase <= 0 {
		return Timecode{}, fmt.Errorf("invalid timebase %v", timebase)
	}
	if dropFrame && timebase%30 != 0 {
		return Timecode{}, fmt.Errorf("drop frame is not defined for a timebase of %v", timebase)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return Timecode{}, fmt.Errorf("%02v:%02v:%02v is not a valid time of day", hours, minutes, seconds)
	}
	if frames < 0 || frames >= timebase {
		return Timecode{}, fmt.Errorf("frame count %v is outside the timebase of %v", frames, timebase)
	}
	if dropFrame && seconds == 0 && minutes%10 != 0 && frames < dropPerMinute(timebase) {
		return Timecode{}, fmt.Errorf("%02v:%02v:00;%02v is a dropped frame number at %v fps drop frame",
			hours, minutes, frames, timebase)
	}

	return Timecode{Hours: hours, Minutes: minutes, Seconds: seconds, Frames: frames,
		Timebase: timebase, DropFrame: dropFrame}, nil
}

// dropPerMinute is the count of frame numbers skipped at each
// non-tenth minute: 2 at a timebase of 30, 4 at 60.
func dropPerMinute(timebase int) int {
	return timebase / 15
}

func (t Timecode) framesPerDay() int {
	perDay := 24 * 3600 * t.Timebase
	if t.DropFrame {
		// 54 dropped minutes in every hour
		perDay -= 24 * 54 * dropPerMinute(t.Timebase)
	}
	return perDay
}

// TotalFrames returns the count of frames between 00:00:00:00 and the
// timecode, accounting for dropped frame numbers.
func (t Timecode) TotalFrames() int {
	total := ((t.Hours*3600+t.Minutes*60+t.Seconds)*t.Timebase + t.Frames)
	if t.DropFrame {
		minutes := t.Hours*60 + t.Minutes
		total -= dropPerMinute(t.Timebase) * (minutes - minutes/10)
	}
	return total
}

// FromFrames builds the timecode that a counter reaches after frame
// count frames, wrapping over 24 hours.
func FromFrames(count, timebase int, dropFrame bool) Timecode {
	t := Timecode{Timebase: timebase, DropFrame: dropFrame}

	perDay := t.framesPerDay()
	count %= perDay
	if count < 0 {
		count += perDay
	}

	if dropFrame {
		// reinstate the skipped numbers so the value can be decomposed
		// as a plain non-drop count
		drop := dropPerMinute(timebase)
		perTen := 600*timebase - 9*drop
		perMinute := 60*timebase - drop

		tens := count / perTen
		rest := count % perTen
		count += 9 * drop * tens
		if rest >= drop {
			count += drop * ((rest - drop) / perMinute)
		}
	}

	t.Frames = count % timebase
	count /= timebase
	t.Seconds = count % 60
	count /= 60
	t.Minutes = count % 60
	t.Hours = count / 60

	return t
}

// AddFrames returns a new timecode advanced by count frames, observing
// the drop-frame skip rules. Negative counts step backwards.
func (t Timecode) AddFrames(count int) Timecode {
	return FromFrames(t.TotalFrames()+count, t.Timebase, t.DropFrame)
}

// Equal reports whether both values name the same frame.
func (t Timecode) Equal(other Timecode) bool {
	return t.Timebase == other.Timebase && t.DropFrame == other.DropFrame &&
		t.TotalFrames() == other.TotalFrames()
}

// Compare orders two timecodes by normalised frame count, returning
// -1, 0 or 1.
func (t Timecode) Compare(other Timecode) int {
	a, b := t.TotalFrames(), other.TotalFrames()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Bytes encodes the timecode as the 4 byte BCD field embedded in MXF
// system packets: frames, seconds, minutes, hours, with the drop-frame
// flag on bit 6 of the frames byte.
//
// The BCD frame digits only reach 39, so timebases above 30 count
// frame pairs per SMPTE 12M: the digits carry the frame number halved
// and bit 7 of the frames byte marks the second frame of each pair.
func (t Timecode) Bytes() [4]byte {
	frames := t.Frames
	pair := false
	if t.Timebase > 30 {
		pair = frames%2 == 1
		frames /= 2
	}

	var out [4]byte
	out[0] = bcd(frames)
	if t.DropFrame {
		out[0] |= 0x40
	}
	if pair {
		out[0] |= 0x80
	}
	out[1] = bcd(t.Seconds)
	out[2] = bcd(t.Minutes)
	out[3] = bcd(t.Hours)
	return out
}

// FromBytes decodes the 4 byte BCD field back into a timecode at the
// given timebase, undoing the frame pair counting of timebases above
// 30.
func FromBytes(data [4]byte, timebase int) (Timecode, error) {
	drop := data[0]&0x40 != 0
	frames := fromBCD(data[0], 0x30)
	if timebase > 30 {
		frames *= 2
		if data[0]&0x80 != 0 {
			frames++
		}
	}
	seconds := fromBCD(data[1], 0x70)
	minutes := fromBCD(data[2], 0x70)
	hours := fromBCD(data[3], 0x30)

	return New(hours, minutes, seconds, frames, timebase, drop)
}

func bcd(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}

// fromBCD decodes a BCD byte, tensMask selecting the valid tens bits
// as the spare high bits carry the flag fields.
func fromBCD(b byte, tensMask byte) int {
	return int(b&tensMask)>>4*10 + int(b&0x0f)
}

// String formats as HH:MM:SS:FF, with the SMPTE semicolon separator
// before the frames of a drop-frame value.
func (t Timecode) String() string {
	sep := ":"
	if t.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02v:%02v:%02v%s%02v", t.Hours, t.Minutes, t.Seconds, sep, t.Frames)
}
