package opx

import (
	"fmt"
	"io"

	"github.com/nathanpbutler/libopx-sub002/klv"
)

// Rational is an edit rate as a numerator/denominator pair.
type Rational struct {
	Numerator   int32
	Denominator int32
}

// Index maps edit units (frames) to absolute byte offsets, decoded
// from the index table segments in the footer partition. With a
// constant edit unit byte count the mapping is a multiplication, a
// variable size table carries one stream offset per frame.
//
// An Index never changes after construction.
type Index struct {
	EditRate Rational
	// BodyOffset is the absolute offset of edit unit zero, the first
	// system packet in the body partition.
	BodyOffset    int64
	EditUnitCount int
	// EditUnitByteCount is the constant edit unit size, zero for a
	// variable size table.
	EditUnitByteCount uint32
	// StreamOffsets holds one offset per edit unit, relative to
	// BodyOffset. Only present for variable size tables.
	StreamOffsets []uint64
}

// ConstantByteSize reports whether every edit unit is the same size.
func (x *Index) ConstantByteSize() bool {
	return x.EditUnitByteCount != 0
}

// EditUnitOffset returns the absolute byte offset of an edit unit's
// first byte, failing for frames outside [0, EditUnitCount).
func (x *Index) EditUnitOffset(frame int) (int64, error) {
	if frame < 0 || frame >= x.EditUnitCount {
		return 0, fmt.Errorf("edit unit %v is outside the indexed range [0,%v)", frame, x.EditUnitCount)
	}
	if x.ConstantByteSize() {
		return x.BodyOffset + int64(frame)*int64(x.EditUnitByteCount), nil
	}
	return x.BodyOffset + int64(x.StreamOffsets[frame]), nil
}

// SystemPacketOffset returns the byte offset just past the system
// packet key of an edit unit. Every OP-1a edit unit opens with its
// system packet, so its length field starts 16 bytes past the edit
// unit start.
func (x *Index) SystemPacketOffset(frame int) (int64, error) {
	offset, err := x.EditUnitOffset(frame)
	if err != nil {
		return 0, err
	}
	return offset + klv.KeySize, nil
}

// BuildIndex decodes the footer partition's index table segments into
// an Index. A missing footer, an absent table or any structural
// problem along the way returns nil: an unusable index is never an
// error, every consumer has a sequential scan fallback.
func BuildIndex(doc io.ReadSeeker, reg *Registry) *Index {
	if reg == nil {
		reg = NewRegistry()
	}
	index, err := buildIndex(doc, reg)
	if err != nil {
		return nil
	}
	return index
}

func buildIndex(doc io.ReadSeeker, reg *Registry) (*Index, error) {
	size, err := klv.StreamSize(doc)
	if err != nil {
		return nil, err
	}
	if _, err := doc.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	first, err := klv.Read(doc)
	if err != nil {
		return nil, err
	}
	if reg.Classify(first.Key) != KeyHeaderPartition {
		return nil, fmt.Errorf("stream does not open with a header partition pack")
	}
	value, err := klv.ReadValue(doc, first)
	if err != nil {
		return nil, err
	}
	header, err := ParsePartition(value)
	if err != nil {
		return nil, err
	}
	if header.FooterPartition == 0 {
		return nil, fmt.Errorf("no footer partition")
	}

	if _, err := doc.Seek(int64(header.FooterPartition), io.SeekStart); err != nil {
		return nil, err
	}
	footerKLV, err := klv.Read(doc)
	if err != nil {
		return nil, err
	}
	if reg.Classify(footerKLV.Key) != KeyFooterPartition {
		return nil, fmt.Errorf("no footer partition pack at byte %v", header.FooterPartition)
	}
	value, err = klv.ReadValue(doc, footerKLV)
	if err != nil {
		return nil, err
	}
	footer, err := ParsePartition(value)
	if err != nil {
		return nil, err
	}
	if footer.IndexByteCount == 0 {
		return nil, fmt.Errorf("footer partition carries no index table")
	}

	segments, err := readSegments(doc, reg, size, int64(footer.HeaderByteCount+footer.IndexByteCount))
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no index table segments in the footer")
	}

	bodyOffset, err := findBodyOffset(doc, reg, int64(header.FooterPartition))
	if err != nil {
		return nil, err
	}

	return combineSegments(segments, bodyOffset)
}

// readSegments walks the KLV units following the footer partition
// pack, decoding every index table segment until the byte budget the
// pack declared is spent.
func readSegments(doc io.ReadSeeker, reg *Registry, size, budget int64) ([]indexSegment, error) {
	var segments []indexSegment
	var consumed int64

	for consumed < budget {
		k, err := klv.Read(doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := k.CheckBounds(size); err != nil {
			return nil, err
		}

		if reg.Classify(k.Key) == KeyIndexTableSegment {
			value, err := klv.ReadValue(doc, k)
			if err != nil {
				return nil, err
			}
			segment, err := parseIndexSegment(value, k.ValueOffset())
			if err != nil {
				return nil, err
			}
			segments = append(segments, segment)
		} else if err := klv.Skip(doc, k); err != nil {
			return nil, err
		}

		consumed += k.TotalLength()
	}

	return segments, nil
}

// findBodyOffset scans from the top of the stream to the first system
// packet, the start of edit unit zero. Only unit headers are read so
// the scan is cheap, and it is bounded by the footer offset.
func findBodyOffset(doc io.ReadSeeker, reg *Registry, footerOffset int64) (int64, error) {
	if _, err := doc.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	for {
		k, err := klv.Read(doc)
		if err != nil {
			return 0, err
		}
		if k.Offset >= footerOffset {
			return 0, fmt.Errorf("no system packet before the footer partition")
		}
		if reg.Classify(k.Key) == KeySystem {
			return k.Offset, nil
		}
		if err := klv.Skip(doc, k); err != nil {
			return 0, err
		}
	}
}

type indexSegment struct {
	editRate          Rational
	startPosition     int64
	duration          int64
	editUnitByteCount uint32
	streamOffsets     []uint64
}

// index table segment local tags, SMPTE 377-1 table layout
const (
	tagEditUnitByteCount  = 0x3f05
	tagIndexEntryArray    = 0x3f0a
	tagIndexEditRate      = 0x3f0b
	tagIndexStartPosition = 0x3f0c
	tagIndexDuration      = 0x3f0d
)

// parseIndexSegment decodes the local set of a single index table
// segment: 2 byte tags, 2 byte big endian lengths.
func parseIndexSegment(value []byte, offset int64) (indexSegment, error) {
	var segment indexSegment

	pos := 0
	for pos < len(value) {
		if pos+4 > len(value) {
			return segment, &klv.StructuralError{Offset: offset + int64(pos),
				Msg: "index table segment local tag truncated"}
		}
		tag := order.Uint16(value[pos : pos+2])
		length := int(order.Uint16(value[pos+2 : pos+4]))
		pos += 4
		if pos+length > len(value) {
			return segment, &klv.StructuralError{Offset: offset + int64(pos),
				Msg: fmt.Sprintf("index table segment item 0x%04x of %v bytes overruns the set", tag, length)}
		}
		item := value[pos : pos+length]

		switch tag {
		case tagEditUnitByteCount:
			if length < 4 {
				return segment, &klv.StructuralError{Offset: offset + int64(pos),
					Msg: "edit unit byte count shorter than 4 bytes"}
			}
			segment.editUnitByteCount = order.Uint32(item[:4])
		case tagIndexEditRate:
			if length < 8 {
				return segment, &klv.StructuralError{Offset: offset + int64(pos),
					Msg: "index edit rate shorter than 8 bytes"}
			}
			segment.editRate = Rational{
				Numerator:   int32(order.Uint32(item[0:4])),
				Denominator: int32(order.Uint32(item[4:8])),
			}
		case tagIndexStartPosition:
			if length < 8 {
				return segment, &klv.StructuralError{Offset: offset + int64(pos),
					Msg: "index start position shorter than 8 bytes"}
			}
			segment.startPosition = int64(order.Uint64(item[:8]))
		case tagIndexDuration:
			if length < 8 {
				return segment, &klv.StructuralError{Offset: offset + int64(pos),
					Msg: "index duration shorter than 8 bytes"}
			}
			segment.duration = int64(order.Uint64(item[:8]))
		case tagIndexEntryArray:
			offsets, err := parseIndexEntries(item, offset+int64(pos))
			if err != nil {
				return segment, err
			}
			segment.streamOffsets = offsets
		}

		pos += length
	}

	return segment, nil
}

// parseIndexEntries decodes the stream offset of each entry in an
// index entry array batch. Entries may be longer than the 11 byte
// minimum when slice offsets are present, the batch header gives the
// stride.
func parseIndexEntries(item []byte, offset int64) ([]uint64, error) {
	if len(item) < 8 {
		return nil, &klv.StructuralError{Offset: offset, Msg: "index entry array batch header truncated"}
	}
	count := int(order.Uint32(item[0:4]))
	stride := int(order.Uint32(item[4:8]))
	if stride < 11 {
		return nil, &klv.StructuralError{Offset: offset,
			Msg: fmt.Sprintf("index entry stride of %v bytes, expected at least 11", stride)}
	}
	if len(item) < 8+count*stride {
		return nil, &klv.StructuralError{Offset: offset,
			Msg: fmt.Sprintf("index entry array of %v entries overruns its item", count)}
	}

	offsets := make([]uint64, count)
	for i := 0; i < count; i++ {
		entry := item[8+i*stride:]
		// temporal offset, key frame offset and flags precede the
		// 8 byte stream offset
		offsets[i] = order.Uint64(entry[3:11])
	}
	return offsets, nil
}

// combineSegments merges the decoded segments into one Index,
// refusing mixes a frame offset function cannot be built from.
func combineSegments(segments []indexSegment, bodyOffset int64) (*Index, error) {
	index := &Index{BodyOffset: bodyOffset, EditRate: segments[0].editRate}

	constant := segments[0].editUnitByteCount != 0
	for _, segment := range segments {
		if (segment.editUnitByteCount != 0) != constant {
			return nil, fmt.Errorf("mixed constant and variable size index segments")
		}
		if segment.duration <= 0 {
			return nil, fmt.Errorf("index segment with a duration of %v", segment.duration)
		}
		// segments must tile the edit units in file order
		if segment.startPosition != int64(index.EditUnitCount) {
			return nil, fmt.Errorf("index segment starts at edit unit %v, expected %v",
				segment.startPosition, index.EditUnitCount)
		}

		if constant {
			if index.EditUnitByteCount != 0 && index.EditUnitByteCount != segment.editUnitByteCount {
				return nil, fmt.Errorf("constant size segments disagree on the edit unit byte count")
			}
			index.EditUnitByteCount = segment.editUnitByteCount
		} else {
			if len(segment.streamOffsets) != int(segment.duration) {
				return nil, fmt.Errorf("variable size segment with %v entries for %v edit units",
					len(segment.streamOffsets), segment.duration)
			}
			index.StreamOffsets = append(index.StreamOffsets, segment.streamOffsets...)
		}

		index.EditUnitCount += int(segment.duration)
	}

	if !constant && len(index.StreamOffsets) != index.EditUnitCount {
		return nil, fmt.Errorf("index carries %v stream offsets for %v edit units",
			len(index.StreamOffsets), index.EditUnitCount)
	}

	return index, nil
}
