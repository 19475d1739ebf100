package opx

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/nathanpbutler/libopx-sub002/timecode"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParsePacketCount(t *testing.T) {

	frameCounts := []int{0, 1, 12, 50}

	for _, frames := range frameCounts {

		stream := (&testContainer{frames: frames}).build()

		ps := Parse(bytes.NewReader(stream))
		var packets []*Packet
		for pkt := range ps.Packets() {
			packets = append(packets, pkt)
		}
		waitErr := ps.Wait()

		Convey("Checking one packet arrives per system packet", t, func() {
			Convey(fmt.Sprintf("parsing a stream of %v frames", frames), func() {
				Convey(fmt.Sprintf("%v packets and %v timecodes arrive in order", frames, frames), func() {
					So(waitErr, ShouldBeNil)
					So(len(packets), ShouldEqual, frames)
					So(len(ps.Timecodes()), ShouldEqual, frames)
				})
			})
		})
	}
}

func TestParseTimecodes(t *testing.T) {

	start := mustTimecode(10, 0, 0, 0, 25, false)
	stream := (&testContainer{frames: 5, start: start}).build()

	ps := Parse(bytes.NewReader(stream))
	var packets []*Packet
	for pkt := range ps.Packets() {
		packets = append(packets, pkt)
	}
	waitErr := ps.Wait()

	progression := true
	for i, pkt := range packets {
		if !pkt.Timecode.Equal(start.AddFrames(i)) {
			progression = false
		}
	}
	breaks := Continuity(ps.Timecodes())

	Convey("Checking the embedded timecodes come out of the system packets", t, func() {
		Convey("parsing 5 frames striped from 10:00:00:00 at 25 fps", func() {
			Convey("Each packet advances one frame with no continuity breaks", func() {
				So(waitErr, ShouldBeNil)
				So(progression, ShouldBeTrue)
				So(breaks, ShouldBeEmpty)
			})
		})
	})
}

func TestParseRequiredKeys(t *testing.T) {

	payload := []byte(`{"caption":"hello"}`)
	stream := (&testContainer{frames: 3, payloads: [][]byte{payload}, withAV: true}).build()

	// data is required by default and arrives raw without a decoder
	ps := Parse(bytes.NewReader(stream))
	var withData []*Packet
	for pkt := range ps.Packets() {
		withData = append(withData, pkt)
	}
	dataErr := ps.Wait()

	// system only: same packet count, empty packets
	psSystem := Parse(bytes.NewReader(stream), WithKeys(KeySystem))
	var systemOnly []*Packet
	for pkt := range psSystem.Packets() {
		systemOnly = append(systemOnly, pkt)
	}
	systemErr := psSystem.Wait()

	// video and audio arrive raw when asked for
	psAV := Parse(bytes.NewReader(stream), WithKeys(KeyVideo, KeyAudio))
	var av []*Packet
	for pkt := range psAV.Packets() {
		av = append(av, pkt)
	}
	avErr := psAV.Wait()

	Convey("Checking required key types select what each packet carries", t, func() {
		Convey("parsing the same stream with data, system only and AV requirements", func() {
			Convey("Payloads only land on packets whose type was required", func() {
				So(dataErr, ShouldBeNil)
				So(len(withData), ShouldEqual, 3)
				So(withData[0].Essence[KeyData], ShouldResemble, [][]byte{payload})
				So(withData[0].Essence[KeyVideo], ShouldBeEmpty)

				So(systemErr, ShouldBeNil)
				So(len(systemOnly), ShouldEqual, 3)
				So(systemOnly[0].Essence[KeyData], ShouldBeEmpty)
				So(systemOnly[0].Lines, ShouldBeEmpty)

				So(avErr, ShouldBeNil)
				So(len(av[0].Essence[KeyVideo]), ShouldEqual, 1)
				So(len(av[0].Essence[KeyAudio]), ShouldEqual, 1)
				So(av[0].Essence[KeyData], ShouldBeEmpty)
			})
		})
	})
}

// fakeDecoder reads two lines out of every payload, addressed by the
// first two payload bytes.
var fakeDecoder = LineDecoderFunc(func(payload []byte) ([]Line, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("payload too short to decode")
	}
	return []Line{
		{Magazine: int(payload[0]), Row: 20, Data: payload},
		{Magazine: int(payload[1]), Row: 21, Data: payload},
	}, nil
})

func TestParseLineFilters(t *testing.T) {

	payload := []byte{8, 3, 0xff, 0xff}
	stream := (&testContainer{frames: 4, payloads: [][]byte{payload}}).build()

	ps := Parse(bytes.NewReader(stream), WithLineDecoder(fakeDecoder))
	all := drainLines(ps)
	allErr := ps.Wait()

	psMag := Parse(bytes.NewReader(stream), WithLineDecoder(fakeDecoder), WithMagazine(8))
	mag := drainLines(psMag)
	magErr := psMag.Wait()

	psRow := Parse(bytes.NewReader(stream), WithLineDecoder(fakeDecoder), WithMagazine(8), WithRow(21))
	row := drainLines(psRow)
	rowErr := psRow.Wait()

	Convey("Checking magazine and row filters narrow the decoded lines", t, func() {
		Convey("decoding 4 frames of two lines each, then filtering by magazine 8 and row 21", func() {
			Convey("The filters drop lines without changing the packet count", func() {
				So(allErr, ShouldBeNil)
				So(all, ShouldEqual, 8)
				So(magErr, ShouldBeNil)
				So(mag, ShouldEqual, 4)
				So(rowErr, ShouldBeNil)
				So(row, ShouldEqual, 0)
			})
		})
	})
}

func TestParseUndecodablePayload(t *testing.T) {

	// one byte payloads fail the decoder, which is not fatal
	stream := (&testContainer{frames: 3, payloads: [][]byte{{0x01}}}).build()

	ps := Parse(bytes.NewReader(stream), WithLineDecoder(fakeDecoder))
	var packets []*Packet
	for pkt := range ps.Packets() {
		packets = append(packets, pkt)
	}
	waitErr := ps.Wait()

	Convey("Checking undecodable payloads leave empty packets", t, func() {
		Convey("parsing 3 frames whose data payloads fail the line decoder", func() {
			Convey("All 3 packets arrive, each with no lines", func() {
				So(waitErr, ShouldBeNil)
				So(len(packets), ShouldEqual, 3)
				So(packets[0].Lines, ShouldBeEmpty)
			})
		})
	})
}

func TestParseCancellation(t *testing.T) {

	stream := (&testContainer{frames: 50}).build()

	ctx, cancel := context.WithCancel(context.Background())
	ps := ParseContext(ctx, bytes.NewReader(stream))

	// take one packet then walk away
	<-ps.Packets()
	cancel()
	for range ps.Packets() {
	}
	waitErr := ps.Wait()

	Convey("Checking a cancelled parse shuts the stream down", t, func() {
		Convey("cancelling the context after the first packet", func() {
			Convey("The channel closes and Wait reports the cancellation", func() {
				So(waitErr, ShouldEqual, context.Canceled)
			})
		})
	})
}

func TestContinuityBreaks(t *testing.T) {

	start := mustTimecode(10, 0, 0, 0, 25, false)
	timecodes := [][]timecode.Timecode{
		{start, start.AddFrames(1), start.AddFrames(2)},
		{start, start.AddFrames(1), start.AddFrames(5), start.AddFrames(6)},
		{},
	}
	expectedBreaks := []int{0, 1, 0}

	for i, tcs := range timecodes {

		breaks := Continuity(tcs)

		Convey("Checking timecode continuity over spliced material", t, func() {
			Convey(fmt.Sprintf("checking a progression with %v expected breaks", expectedBreaks[i]), func() {
				Convey("Each break names where the progression jumped", func() {
					So(len(breaks), ShouldEqual, expectedBreaks[i])
					if len(breaks) > 0 {
						So(breaks[0].Index, ShouldEqual, 2)
						So(breaks[0].Expected.Equal(start.AddFrames(2)), ShouldBeTrue)
						So(breaks[0].Found.Equal(start.AddFrames(5)), ShouldBeTrue)
					}
				})
			})
		})
	}
}

func drainLines(ps *PacketStream) int {
	lines := 0
	for pkt := range ps.Packets() {
		lines += len(pkt.Lines)
	}
	return lines
}
