// Package opx navigates MXF OP-1a containers packet by packet. It
// walks the Key-Length-Value stream without loading the file, and
// provides three operations over it: filtering essence into a lazy
// packet sequence, extracting essence streams to files, and restriping
// the embedded timecode of every frame in place.
package opx

import (
	"fmt"

	mxf2go "github.com/metarex-media/mxf-to-go"
)

// KeyType is the semantic family of a universal label.
type KeyType int

const (
	// KeyUnknown marks a label the registry does not know. It is not an
	// error, the unit's length bytes are consumed and the unit skipped.
	KeyUnknown KeyType = iota
	KeyHeaderPartition
	KeyFooterPartition
	KeyIndexTableSegment
	KeyData
	KeyVideo
	KeyAudio
	KeySystem
	KeyTimecodeComponent
	KeyFill
)

// String returns the lower case family name, for file naming and reports.
func (kt KeyType) String() string {
	switch kt {
	case KeyHeaderPartition:
		return "headerpartition"
	case KeyFooterPartition:
		return "footerpartition"
	case KeyIndexTableSegment:
		return "indextablesegment"
	case KeyData:
		return "data"
	case KeyVideo:
		return "video"
	case KeyAudio:
		return "audio"
	case KeySystem:
		return "system"
	case KeyTimecodeComponent:
		return "timecodecomponent"
	case KeyFill:
		return "fill"
	default:
		return "unknown"
	}
}

// The SMPTE universal labels the default registry is seeded with.
// Partition pack keys carry their status in byte 14, all four statuses
// (open/closed, complete/incomplete) are registered separately as the
// registry matches whole keys only.
var (
	// ULSystemSDTI is the SDTI-CP system item package key.
	ULSystemSDTI = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x05, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x04, 0x01, 0x01, 0x00}
	// ULSystemGC is the generic container system item, scheme 1.
	ULSystemGC = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x53, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x14, 0x02, 0x01, 0x00}
	// ULDataVBI is the generic container VBI data element, element 1 of 1.
	ULDataVBI = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x02, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x17, 0x01, 0x01, 0x01}
	// ULDataANC is the generic container ANC data element, element 1 of 1.
	ULDataANC = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x02, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x17, 0x01, 0x02, 0x01}
	// ULVideoMPEG is the generic container MPEG picture element, element 1 of 1.
	ULVideoMPEG = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x02, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x15, 0x01, 0x05, 0x01}
	// ULAudioAES is the generic container AES3 sound element, element 1 of 1.
	ULAudioAES = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x02, 0x01, 0x01,
		0x0d, 0x01, 0x03, 0x01, 0x16, 0x01, 0x01, 0x01}
	// ULIndexTableSegment is the index table segment set key.
	ULIndexTableSegment = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x53, 0x01, 0x01,
		0x0d, 0x01, 0x02, 0x01, 0x01, 0x10, 0x01, 0x00}
	// ULTimecodeComponent is the timecode component metadata set key.
	ULTimecodeComponent = [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x53, 0x01, 0x01,
		0x0d, 0x01, 0x01, 0x01, 0x01, 0x01, 0x14, 0x00}
)

// the fill item key appears with three registry version bytes in the wild
var ulFillVersions = [][16]byte{
	{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x01, 0x01, 0x01, 0x03, 0x01, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00},
	{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x01, 0x01, 0x02, 0x03, 0x01, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00},
	{0x06, 0x0e, 0x2b, 0x34, 0x01, 0x02, 0x01, 0x01, 0x03, 0x01, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00},
}

// partitionKey builds a partition pack key for a kind byte (02 header,
// 03 body, 04 footer) and a status byte (01-04).
func partitionKey(kind, status byte) [16]byte {
	return [16]byte{0x06, 0x0e, 0x2b, 0x34, 0x02, 0x05, 0x01, 0x01,
		0x0d, 0x01, 0x02, 0x01, 0x01, kind, status, 0x00}
}

// Registry maps universal labels to key types by exact 16 byte match.
// It replaces the usual process wide handler table with an explicit
// object that is built once and passed to each operation, so callers
// can register private essence keys without global state.
type Registry struct {
	keys map[[16]byte]KeyType
}

// NewRegistry returns a registry seeded with the known SMPTE labels
// for each key family.
func NewRegistry() *Registry {
	reg := &Registry{keys: make(map[[16]byte]KeyType)}

	for status := byte(0x01); status <= 0x04; status++ {
		reg.keys[partitionKey(0x02, status)] = KeyHeaderPartition
		reg.keys[partitionKey(0x04, status)] = KeyFooterPartition
	}

	reg.keys[ULIndexTableSegment] = KeyIndexTableSegment
	reg.keys[ULSystemSDTI] = KeySystem
	reg.keys[ULSystemGC] = KeySystem
	reg.keys[ULDataVBI] = KeyData
	reg.keys[ULDataANC] = KeyData
	reg.keys[ULVideoMPEG] = KeyVideo
	reg.keys[ULAudioAES] = KeyAudio
	reg.keys[ULTimecodeComponent] = KeyTimecodeComponent

	for _, fill := range ulFillVersions {
		reg.keys[fill] = KeyFill
	}

	return reg
}

// Register adds or replaces a label in the registry. A zero value
// Registry starts empty, with no seeded labels.
func (reg *Registry) Register(key [16]byte, kt KeyType) {
	if reg.keys == nil {
		reg.keys = make(map[[16]byte]KeyType)
	}
	reg.keys[key] = kt
}

// Classify returns the key type of a 16 byte universal label, or
// KeyUnknown when it is not registered.
func (reg *Registry) Classify(key []byte) KeyType {
	if len(key) != 16 {
		return KeyUnknown
	}
	var k [16]byte
	copy(k[:], key)
	return reg.keys[k]
}

// ULString formats a label in the dotted universal label form of
// "060e2b34.02050101.0d010201.01020400".
func ULString(key []byte) string {
	if len(key) != 16 {
		return ""
	}
	return fmt.Sprintf("%02x%02x%02x%02x.%02x%02x%02x%02x.%02x%02x%02x%02x.%02x%02x%02x%02x",
		key[0], key[1], key[2], key[3], key[4], key[5], key[6], key[7],
		key[8], key[9], key[10], key[11], key[12], key[13], key[14], key[15])
}

func ulStringMask(key []byte, maskedBytes ...int) string {
	mid := make([]byte, len(key))
	copy(mid, key)
	for _, i := range maskedBytes {
		mid[i] = 0x7f
	}
	return ULString(mid)
}

const ulPrefix = "urn:smpte:ul:"

// essenceSymbol resolves a key to its registered essence symbol,
// trying the exact label and then the 7f masked element and count
// byte variants.
func essenceSymbol(key []byte) (mxf2go.EssenceInformation, bool) {
	if ess, ok := mxf2go.EssenceLookUp[ulPrefix+ULString(key)]; ok {
		return ess, true
	}
	if ess, ok := mxf2go.EssenceLookUp[ulPrefix+ulStringMask(key, 15)]; ok {
		return ess, true
	}
	if ess, ok := mxf2go.EssenceLookUp[ulPrefix+ulStringMask(key, 13, 15)]; ok {
		return ess, true
	}
	return mxf2go.EssenceInformation{}, false
}
