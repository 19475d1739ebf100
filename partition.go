package opx

import (
	"encoding/binary"
	"fmt"

	"github.com/nathanpbutler/libopx-sub002/klv"
)

// Partition is the fixed layout metadata block that opens the header,
// body and footer partitions, with type accurate fields (or as close
// as possible).
type Partition struct {
	MajorVersion      uint16 // Must be, hex: 01 00
	MinorVersion      uint16
	KAGSize           uint32
	ThisPartition     uint64
	PreviousPartition uint64
	FooterPartition   uint64 // absolute byte offset, 0 when there is none
	HeaderByteCount   uint64
	IndexByteCount    uint64
	IndexSID          uint32
	BodyOffset        uint64
	BodySID           uint32
}

var order = binary.BigEndian

const partitionPackMinSize = 64

// ParsePartition decodes a partition pack from the value bytes of a
// KLV unit whose key classified as a partition key. All fields are big
// endian at fixed offsets, anything shorter than 64 bytes fails.
func ParsePartition(value []byte) (*Partition, error) {
	if len(value) < partitionPackMinSize {
		return nil, &klv.StructuralError{
			Msg: fmt.Sprintf("partition pack of %v bytes, expected at least %v", len(value), partitionPackMinSize)}
	}

	return &Partition{
		MajorVersion:      order.Uint16(value[0:2:2]),
		MinorVersion:      order.Uint16(value[2:4:4]),
		KAGSize:           order.Uint32(value[4:8:8]),
		ThisPartition:     order.Uint64(value[8:16:16]),
		PreviousPartition: order.Uint64(value[16:24:24]),
		FooterPartition:   order.Uint64(value[24:32:32]),
		HeaderByteCount:   order.Uint64(value[32:40:40]),
		IndexByteCount:    order.Uint64(value[40:48:48]),
		IndexSID:          order.Uint32(value[48:52:52]),
		BodyOffset:        order.Uint64(value[52:60:60]),
		BodySID:           order.Uint32(value[60:64:64]),
	}, nil
}

// partition kind names used by the structure report
const (
	headerPartitionKind = "header"
	bodyPartitionKind   = "body"
	footerPartitionKind = "footer"
	ripPartitionKind    = "rip"
)

// partition pack keys share a 13 byte prefix, byte 13 carries the kind
var partitionKeyPrefix = []byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x05, 0x01, 0x01,
	0x0d, 0x01, 0x02, 0x01, 0x01}

// partitionKind names the partition a pack key opens, or "" for keys
// that are not partition packs. The classifier only knows header and
// footer packs, the structure report wants body and RIP packs named
// as well.
func partitionKind(key []byte) string {
	if len(key) != 16 {
		return ""
	}
	for i, b := range partitionKeyPrefix {
		if key[i] != b {
			return ""
		}
	}

	switch key[13] {
	case 0x02:
		return headerPartitionKind
	case 0x03:
		return bodyPartitionKind
	case 0x04:
		return footerPartitionKind
	case 0x11:
		return ripPartitionKind
	default:
		return ""
	}
}
