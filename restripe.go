package opx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nathanpbutler/libopx-sub002/klv"
	"github.com/nathanpbutler/libopx-sub002/timecode"
)

// File is the stream capability Restripe needs: the header and footer
// parse reads interleave with random access writes on one descriptor.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
}

// ValidationError reports a target timecode that is incompatible with
// the file being restriped.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// RestripeOptions configures a Restripe run. The zero value uses the
// default registry and the index table when the file carries one.
type RestripeOptions struct {
	Registry *Registry
	// NoIndex forces the sequential scan even when a usable index
	// table exists.
	NoIndex bool
	// OnFrame is called after each frame's timecode field is written,
	// with the value that was written. The value is computed from the
	// start timecode, never read back from the file.
	OnFrame func(frame int, tc timecode.Timecode)

	Progress         func(Progress)
	ProgressInterval time.Duration
}

// Restripe rewrites the embedded SMPTE timecode of every system packet
// to a sequential progression starting at start, touching nothing but
// the 4 byte timecode fields. It returns the count of frames
// rewritten; a file with no system packets rewrites zero frames and
// succeeds.
//
// With a usable index table the body is never scanned at all, each
// timecode field is sought directly. Without one every KLV unit is
// walked, with only unit headers ever read.
func Restripe(f File, start timecode.Timecode, opts *RestripeOptions) (int, error) {
	return RestripeContext(context.Background(), f, start, opts)
}

// RestripeContext is Restripe with cooperative cancellation, checked
// once per KLV unit or indexed frame. Frames already rewritten when
// the run is cancelled or fails stay rewritten, restriping is not
// transactional.
func RestripeContext(ctx context.Context, f File, start timecode.Timecode, opts *RestripeOptions) (int, error) {
	if opts == nil {
		opts = &RestripeOptions{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	if !opts.NoIndex {
		if index := BuildIndex(f, reg); index != nil {
			return restripeIndexed(ctx, f, start, index, opts)
		}
	}
	return restripeSequential(ctx, f, start, reg, opts)
}

// validateRate checks the target timecode against the file's content
// package rate byte. Run exactly once per restripe, on the first
// system packet, before any timecode field is written.
func validateRate(rateByte byte, start timecode.Timecode) error {
	timebase, fractional, err := rateFromByte(rateByte)
	if err != nil {
		return err
	}
	if start.Timebase != timebase {
		return &ValidationError{Msg: fmt.Sprintf(
			"target timecode timebase %v does not match the file rate of %v", start.Timebase, timebase)}
	}
	if start.DropFrame && !fractional {
		return &ValidationError{Msg: fmt.Sprintf(
			"drop frame target timecode for a file at an integer %v fps", timebase)}
	}
	return nil
}

func restripeSequential(ctx context.Context, f File, start timecode.Timecode, reg *Registry, opts *RestripeOptions) (int, error) {
	size, err := klv.StreamSize(f)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	frame := 0
	validated := false
	lastProgress := time.Now()
	progressEvery := opts.ProgressInterval
	if progressEvery <= 0 {
		progressEvery = time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return frame, err
		}

		k, err := klv.Read(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return frame, err
		}
		if err := k.CheckBounds(size); err != nil {
			return frame, err
		}

		if reg.Classify(k.Key) != KeySystem {
			if err := klv.Skip(f, k); err != nil {
				return frame, err
			}
			continue
		}

		metaOffset, err := systemMetadataOffset(k.LengthValue)
		if err != nil {
			return frame, err
		}

		if !validated {
			head, err := klv.ReadValueLimit(f, k, systemRateByteOffset+1)
			if err != nil {
				return frame, err
			}
			if err := validateRate(head[systemRateByteOffset], start); err != nil {
				return frame, err
			}
			validated = true
		}

		// the old field is never read: its value is provable from the
		// progression, the 4 bytes are simply overwritten
		tc := start.AddFrames(frame)
		if err := writeTimecode(f, k.ValueOffset()+metaOffset, tc); err != nil {
			return frame, err
		}
		if opts.OnFrame != nil {
			opts.OnFrame(frame, tc)
		}
		frame++

		if opts.Progress != nil && time.Since(lastProgress) >= progressEvery {
			lastProgress = time.Now()
			opts.Progress(Progress{Offset: k.Offset, Size: size, Frames: frame})
		}

		if err := klv.Skip(f, k); err != nil {
			return frame, err
		}
	}

	return frame, nil
}

// restripeIndexed skips the body scan entirely: one seek and one
// 4 byte write per frame. The system packet framing is learnt once
// from edit unit zero, the OP-1a interleave keeps it uniform across
// edit units.
func restripeIndexed(ctx context.Context, f File, start timecode.Timecode, index *Index, opts *RestripeOptions) (int, error) {
	if index.EditUnitCount == 0 {
		return 0, nil
	}

	size, err := klv.StreamSize(f)
	if err != nil {
		return 0, err
	}

	first, err := index.SystemPacketOffset(0)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(first, io.SeekStart); err != nil {
		return 0, err
	}
	length, raw, err := klv.ReadBER(f)
	if err != nil {
		return 0, err
	}
	metaOffset, err := systemMetadataOffset(length)
	if err != nil {
		return 0, err
	}

	head := make([]byte, systemRateByteOffset+1)
	if _, err := io.ReadFull(f, head); err != nil {
		return 0, &klv.StructuralError{Offset: first, Msg: "truncated system packet", Err: err}
	}
	if err := validateRate(head[systemRateByteOffset], start); err != nil {
		return 0, err
	}

	// byte distance from an edit unit's length field to its timecode
	fieldDelta := int64(len(raw)) + metaOffset

	lastProgress := time.Now()
	progressEvery := opts.ProgressInterval
	if progressEvery <= 0 {
		progressEvery = time.Second
	}

	for frame := 0; frame < index.EditUnitCount; frame++ {
		if err := ctx.Err(); err != nil {
			return frame, err
		}

		offset, err := index.SystemPacketOffset(frame)
		if err != nil {
			return frame, err
		}
		tc := start.AddFrames(frame)
		if err := writeTimecode(f, offset+fieldDelta, tc); err != nil {
			return frame, err
		}
		if opts.OnFrame != nil {
			opts.OnFrame(frame, tc)
		}

		if opts.Progress != nil && time.Since(lastProgress) >= progressEvery {
			lastProgress = time.Now()
			opts.Progress(Progress{Offset: offset, Size: size, Frames: frame + 1})
		}
	}

	return index.EditUnitCount, nil
}

func writeTimecode(f File, offset int64, tc timecode.Timecode) error {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	field := tc.Bytes()
	if _, err := f.Write(field[:]); err != nil {
		return fmt.Errorf("writing the timecode field at byte %v: %w", offset, err)
	}
	return nil
}
