package opx

import (
	"github.com/nathanpbutler/libopx-sub002/klv"
)

// StructuralError is the klv package's structural error, re-exported
// as the partition and index parsers report malformed structure with
// the same type. Use errors.As to pull the byte offset out of any
// failed operation.
type StructuralError = klv.StructuralError
