package opx

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nathanpbutler/libopx-sub002/klv"
	"github.com/nathanpbutler/libopx-sub002/timecode"
)

// Progress is a snapshot of a running operation, handed to the
// progress callback.
type Progress struct {
	// Offset is the current byte position in the stream.
	Offset int64
	// Size is the total stream size in bytes.
	Size int64
	// Frames is the count of system packets handled so far.
	Frames int
}

// Options configures a Parse run.
type Options struct {
	registry      *Registry
	required      map[KeyType]bool
	decoder       LineDecoder
	magazine, row *int
	progress      func(Progress)
	progressEvery time.Duration
}

func newOptions(options ...func(*Options)) *Options {
	opts := &Options{
		registry:      NewRegistry(),
		required:      map[KeyType]bool{KeySystem: true, KeyData: true},
		progressEvery: time.Second,
	}
	for _, opt := range options {
		opt(opts)
	}
	return opts
}

// WithRegistry parses with a caller built key registry instead of the
// default one.
func WithRegistry(reg *Registry) func(*Options) {
	return func(o *Options) {
		o.registry = reg
	}
}

// WithKeys sets the key types whose payloads are decoded. Everything
// else has its length bytes consumed and is skipped without the
// payload ever being read. System packets always drive the frame
// boundaries and timecode list, required or not.
func WithKeys(keys ...KeyType) func(*Options) {
	return func(o *Options) {
		o.required = make(map[KeyType]bool, len(keys))
		for _, key := range keys {
			o.required[key] = true
		}
	}
}

// WithLineDecoder sets the collaborator that decodes raw data essence
// payloads into lines. Without one, data payloads are carried raw on
// the packet.
func WithLineDecoder(decoder LineDecoder) func(*Options) {
	return func(o *Options) {
		o.decoder = decoder
	}
}

// WithMagazine keeps only lines of the given teletext magazine.
// Filtering never changes frame boundaries, the packet count stays a
// function of the system packet count alone.
func WithMagazine(magazine int) func(*Options) {
	return func(o *Options) {
		o.magazine = &magazine
	}
}

// WithRow keeps only lines of the given teletext row.
func WithRow(row int) func(*Options) {
	return func(o *Options) {
		o.row = &row
	}
}

// WithProgress invokes fn at most once per interval while the
// operation runs. The callback must not block.
func WithProgress(fn func(Progress), interval time.Duration) func(*Options) {
	return func(o *Options) {
		o.progress = fn
		if interval > 0 {
			o.progressEvery = interval
		}
	}
}

// PacketStream is the lazy sequence of packets a Parse run yields, one
// per system packet, in file order. Restart by re-opening the stream
// and parsing again.
type PacketStream struct {
	packets   chan *Packet
	errs      *errgroup.Group
	waitOnce  sync.Once
	waitErr   error
	timecodes []timecode.Timecode
}

// Packets returns the channel the packets arrive on. It is closed when
// the stream ends or fails, check Wait afterwards.
func (ps *PacketStream) Packets() <-chan *Packet {
	return ps.packets
}

// Wait blocks until the run finishes and returns its error, if any.
func (ps *PacketStream) Wait() error {
	ps.waitOnce.Do(func() {
		ps.waitErr = ps.errs.Wait()
	})
	return ps.waitErr
}

// Timecodes returns every system timecode seen, in file order, for
// continuity checking. Only valid once Wait has returned.
func (ps *PacketStream) Timecodes() []timecode.Timecode {
	return ps.timecodes
}

// Parse walks the container and yields one packet per system packet,
// decoding the payloads of the required key types into each. It blocks
// only as far as the caller drains the stream; use ParseContext for a
// cancellable run.
func Parse(doc io.ReadSeeker, options ...func(*Options)) *PacketStream {
	return ParseContext(context.Background(), doc, options...)
}

// ParseContext is Parse with cooperative cancellation, checked once
// per KLV unit.
func ParseContext(ctx context.Context, doc io.ReadSeeker, options ...func(*Options)) *PacketStream {
	opts := newOptions(options...)

	errs, ctx := errgroup.WithContext(ctx)
	ps := &PacketStream{packets: make(chan *Packet, 1), errs: errs}

	errs.Go(func() error {
		defer close(ps.packets)
		return ps.scan(ctx, doc, opts)
	})

	return ps
}

func (ps *PacketStream) scan(ctx context.Context, doc io.ReadSeeker, opts *Options) error {
	size, err := klv.StreamSize(doc)
	if err != nil {
		return err
	}
	if _, err := doc.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var current *Packet
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		k, err := klv.Read(doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := k.CheckBounds(size); err != nil {
			return err
		}

		kt := opts.registry.Classify(k.Key)

		switch {
		case kt == KeySystem:
			value, err := klv.ReadValue(doc, k)
			if err != nil {
				return err
			}
			tc, err := parseSystemTimecode(value, k.Offset)
			if err != nil {
				return err
			}
			ps.timecodes = append(ps.timecodes, tc)

			if current != nil {
				if err := ps.send(ctx, current); err != nil {
					return err
				}
			}
			current = newPacket(tc)

			if opts.progress != nil && time.Since(lastProgress) >= opts.progressEvery {
				lastProgress = time.Now()
				opts.progress(Progress{Offset: k.ValueOffset() + k.LengthValue, Size: size,
					Frames: len(ps.timecodes)})
			}

		case opts.required[kt] && current != nil && kt == KeyData:
			value, err := klv.ReadValue(doc, k)
			if err != nil {
				return err
			}
			if opts.decoder == nil {
				current.Essence[kt] = append(current.Essence[kt], value)
				break
			}
			lines, err := opts.decoder.DecodeLines(value)
			if err != nil {
				// an undecodable payload leaves the packet empty
				break
			}
			for _, line := range lines {
				if opts.magazine != nil && line.Magazine != *opts.magazine {
					continue
				}
				if opts.row != nil && line.Row != *opts.row {
					continue
				}
				current.Lines = append(current.Lines, line)
			}

		case opts.required[kt] && current != nil && (kt == KeyVideo || kt == KeyAudio || kt == KeyTimecodeComponent):
			value, err := klv.ReadValue(doc, k)
			if err != nil {
				return err
			}
			current.Essence[kt] = append(current.Essence[kt], value)

		default:
			if err := klv.Skip(doc, k); err != nil {
				return err
			}
		}
	}

	if current != nil {
		return ps.send(ctx, current)
	}
	return nil
}

func (ps *PacketStream) send(ctx context.Context, pkt *Packet) error {
	select {
	case ps.packets <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
