package opx

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nathanpbutler/libopx-sub002/klv"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBuildIndexConstant(t *testing.T) {

	container := &testContainer{frames: 5, index: "cbe"}
	stream := container.build()

	index := BuildIndex(bytes.NewReader(stream), nil)

	Convey("Checking a constant size index builds from the footer", t, func() {
		Convey("indexing a 5 frame stream with a constant edit unit byte count", func() {
			Convey("The index knows the frame count, rate and unit size", func() {
				So(index, ShouldNotBeNil)
				So(index.EditUnitCount, ShouldEqual, 5)
				So(index.ConstantByteSize(), ShouldBeTrue)
				So(index.EditRate, ShouldResemble, Rational{Numerator: 25, Denominator: 1})
			})
		})
	})

	if index == nil {
		t.Fatal("no index was built")
	}

	for frame := 1; frame < 5; frame++ {

		prev, _ := index.EditUnitOffset(frame - 1)
		offset, offErr := index.EditUnitOffset(frame)
		sys, sysErr := index.SystemPacketOffset(frame)

		Convey("Checking the constant size offset arithmetic", t, func() {
			Convey(fmt.Sprintf("taking the offsets of edit unit %v", frame), func() {
				Convey("Units are evenly spaced and the system packet sits one key past the unit", func() {
					So(offErr, ShouldBeNil)
					So(offset-prev, ShouldEqual, int64(index.EditUnitByteCount))
					So(sysErr, ShouldBeNil)
					So(sys, ShouldEqual, offset+klv.KeySize)
				})
			})
		})
	}
}

func TestBuildIndexVariable(t *testing.T) {

	// uneven payloads force one entry per edit unit
	payloads := [][]byte{make([]byte, 16), make([]byte, 48), make([]byte, 32), make([]byte, 80)}
	container := &testContainer{frames: 4, index: "vbe", payloads: payloads}
	stream := container.build()

	index := BuildIndex(bytes.NewReader(stream), nil)

	Convey("Checking a variable size index builds from its entry array", t, func() {
		Convey("indexing a 4 frame stream of uneven frame sizes", func() {
			Convey("The index carries one stream offset per edit unit", func() {
				So(index, ShouldNotBeNil)
				So(index.EditUnitCount, ShouldEqual, 4)
				So(index.ConstantByteSize(), ShouldBeFalse)
				So(len(index.StreamOffsets), ShouldEqual, 4)
			})
		})
	})

	if index == nil {
		t.Fatal("no index was built")
	}

	// each indexed offset lands exactly on a system packet key
	reg := NewRegistry()
	for frame := 0; frame < 4; frame++ {

		offset, offErr := index.EditUnitOffset(frame)
		sys, sysErr := index.SystemPacketOffset(frame)
		key := stream[offset : offset+klv.KeySize]

		Convey("Checking the indexed offsets land on edit unit boundaries", t, func() {
			Convey(fmt.Sprintf("reading the key at the offset of edit unit %v", frame), func() {
				Convey("A system packet key sits at the offset", func() {
					So(offErr, ShouldBeNil)
					So(reg.Classify(key), ShouldEqual, KeySystem)
					So(sysErr, ShouldBeNil)
					So(sys, ShouldEqual, offset+klv.KeySize)
				})
			})
		})
	}
}

func TestIndexRange(t *testing.T) {

	container := &testContainer{frames: 3, index: "cbe"}
	index := BuildIndex(bytes.NewReader(container.build()), nil)
	if index == nil {
		t.Fatal("no index was built")
	}

	_, lowErr := index.EditUnitOffset(-1)
	_, highErr := index.EditUnitOffset(3)
	_, okErr := index.EditUnitOffset(2)

	Convey("Checking frame numbers outside the indexed range fail", t, func() {
		Convey("asking for edit units -1, 3 and 2 of a 3 frame index", func() {
			Convey("The out of range frames error, the last frame does not", func() {
				So(lowErr, ShouldNotBeNil)
				So(highErr, ShouldNotBeNil)
				So(okErr, ShouldBeNil)
			})
		})
	})
}

func TestBuildIndexDegrades(t *testing.T) {

	noIndex := (&testContainer{frames: 3}).build()

	// a stream that opens with essence instead of a partition pack
	headless := (&testContainer{frames: 1, index: "cbe"}).build()[17+64+17+16:]

	// an index whose footer offset points into the essence
	broken := (&testContainer{frames: 3, index: "cbe"}).build()
	broken[17+24+7] = 0x01

	streams := [][]byte{noIndex, headless, broken, {}}
	names := []string{"a footer with no index table", "a stream with no header partition",
		"a corrupt footer partition offset", "an empty stream"}

	for i, stream := range streams {

		index := BuildIndex(bytes.NewReader(stream), nil)

		Convey("Checking unusable index tables degrade to nil", t, func() {
			Convey(fmt.Sprintf("building the index of %s", names[i]), func() {
				Convey("No index and no error, the callers fall back to scanning", func() {
					So(index, ShouldBeNil)
				})
			})
		})
	}
}

func TestCombineSegments(t *testing.T) {

	constant := indexSegment{editRate: Rational{25, 1}, duration: 3, editUnitByteCount: 100}
	follower := constant
	follower.startPosition = 3
	variable := indexSegment{editRate: Rational{25, 1}, duration: 2, streamOffsets: []uint64{0, 100}}

	combined, combineErr := combineSegments([]indexSegment{constant, follower}, 50)

	Convey("Checking segments of one table concatenate", t, func() {
		Convey("combining two constant size segments of 3 edit units each", func() {
			Convey("The index spans 6 edit units from the body offset", func() {
				So(combineErr, ShouldBeNil)
				So(combined.EditUnitCount, ShouldEqual, 6)
				So(combined.BodyOffset, ShouldEqual, 50)
			})
		})
	})

	_, mixedErr := combineSegments([]indexSegment{constant, variable}, 0)
	disagreeing := follower
	disagreeing.editUnitByteCount = 200
	_, disagreeErr := combineSegments([]indexSegment{constant, disagreeing}, 0)
	short := variable
	short.streamOffsets = short.streamOffsets[:1]
	_, shortErr := combineSegments([]indexSegment{short}, 0)
	// the second segment claims the edit units the first already covered
	_, overlapErr := combineSegments([]indexSegment{constant, constant}, 0)
	gapped := follower
	gapped.startPosition = 5
	_, gapErr := combineSegments([]indexSegment{constant, gapped}, 0)

	Convey("Checking segment mixes an offset function cannot be built from", t, func() {
		Convey("combining mixed, disagreeing, under filled, overlapping and gapped segments", func() {
			Convey("Every combination is refused", func() {
				So(mixedErr, ShouldNotBeNil)
				So(disagreeErr, ShouldNotBeNil)
				So(shortErr, ShouldNotBeNil)
				So(overlapErr, ShouldNotBeNil)
				So(gapErr, ShouldNotBeNil)
			})
		})
	})
}
