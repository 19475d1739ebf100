package opx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nathanpbutler/libopx-sub002/klv"
)

// ExtractOptions configures an Extract run. The zero value extracts
// data essence, one raw file per matched key type.
type ExtractOptions struct {
	Registry *Registry
	// Keys are the key types to extract, data essence when empty.
	Keys []KeyType
	// KLVWrap writes each unit's original key and BER length ahead of
	// its value, keeping the output a valid KLV stream.
	KLVWrap bool
	// Demux opens one output per distinct key value rather than per
	// key type, named by the resolved essence symbol or the hex label.
	Demux bool
	// Identifiers probe the first bytes of each data stream to tag its
	// content type and pick a file extension.
	Identifiers []Identifier
	// Sniffers run over the first payload of each identified data
	// stream, their results land in the extraction summary.
	Sniffers []Sniffer

	Progress         func(Progress)
	ProgressInterval time.Duration
}

// ExtractedStream summarises one output file of an Extract run.
type ExtractedStream struct {
	// Path of the written file
	Path string
	// Key is the dotted universal label the stream was matched on. In
	// key type mode it is the first key of the type that appeared.
	Key string
	// Type is the key family
	Type KeyType
	// ContentType of the identified data, empty when nothing matched
	ContentType CType
	// Sniffs are the sniffer results over the stream's first payload
	Sniffs []SniffResult
	// Bytes of value payload written
	Bytes int64
	// Units is the count of KLV units appended
	Units int
}

// sniffLimit bounds how much of a first payload the identifiers and
// sniffers see.
const sniffLimit = 4096

// Extract splits the matching essence streams of a container into
// files under outDir, lazily opened on first match. Key types with
// zero matches produce zero files, which is not an error.
func Extract(doc io.ReadSeeker, outDir string, opts *ExtractOptions) ([]ExtractedStream, error) {
	return ExtractContext(context.Background(), doc, outDir, opts)
}

// ExtractContext is Extract with cooperative cancellation, checked
// once per KLV unit. Streams already written stay on disk when the
// run is cancelled.
func ExtractContext(ctx context.Context, doc io.ReadSeeker, outDir string, opts *ExtractOptions) ([]ExtractedStream, error) {
	if opts == nil {
		opts = &ExtractOptions{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	required := make(map[KeyType]bool, len(opts.Keys))
	for _, key := range opts.Keys {
		required[key] = true
	}
	if len(required) == 0 {
		required[KeyData] = true
	}
	progressEvery := opts.ProgressInterval
	if progressEvery <= 0 {
		progressEvery = time.Second
	}

	size, err := klv.StreamSize(doc)
	if err != nil {
		return nil, err
	}
	if _, err := doc.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	ex := &extractor{opts: opts, outDir: outDir, streams: make(map[string]*extractStream)}
	defer ex.closeAll()

	frames := 0
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

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

		kt := reg.Classify(k.Key)
		if kt == KeySystem {
			frames++
			if opts.Progress != nil && time.Since(lastProgress) >= progressEvery {
				lastProgress = time.Now()
				opts.Progress(Progress{Offset: k.Offset, Size: size, Frames: frames})
			}
		}

		if !required[kt] {
			if err := klv.Skip(doc, k); err != nil {
				return nil, err
			}
			continue
		}

		if err := ex.append(doc, k, kt); err != nil {
			return nil, err
		}
	}

	if err := ex.closeAll(); err != nil {
		return nil, err
	}
	return ex.summary(), nil
}

type extractor struct {
	opts    *ExtractOptions
	outDir  string
	streams map[string]*extractStream
	order   []string
	closed  bool
}

type extractStream struct {
	file *os.File
	info ExtractedStream
}

// append routes one matched unit to its output stream, opening the
// stream on first sight of the key.
func (ex *extractor) append(doc io.ReadSeeker, k *klv.KLV, kt KeyType) error {
	id := kt.String()
	if ex.opts.Demux {
		id = string(k.Key)
	}

	stream, ok := ex.streams[id]
	if !ok {
		head, err := klv.ReadValueLimit(doc, k, sniffLimit)
		if err != nil {
			return err
		}
		stream, err = ex.open(k, kt, head)
		if err != nil {
			return err
		}
		ex.streams[id] = stream
		ex.order = append(ex.order, id)
	}

	if ex.opts.KLVWrap {
		if _, err := stream.file.Write(k.Key); err != nil {
			return err
		}
		if _, err := stream.file.Write(k.Length); err != nil {
			return err
		}
	}

	if _, err := doc.Seek(k.ValueOffset(), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(stream.file, doc, k.LengthValue); err != nil {
		return fmt.Errorf("writing %v bytes to %s: %w", k.LengthValue, stream.info.Path, err)
	}

	stream.info.Bytes += k.LengthValue
	stream.info.Units++
	return nil
}

// open creates the output file for a stream, naming it from the key
// and the sniffed content of its first payload.
func (ex *extractor) open(k *klv.KLV, kt KeyType, head []byte) (*extractStream, error) {
	name := kt.String()
	if ex.opts.Demux {
		if ess, ok := essenceSymbol(k.Key); ok {
			name = ess.Symbol
		} else {
			name = ULString(k.Key)
		}
	}

	info := ExtractedStream{Key: ULString(k.Key), Type: kt}

	ext := ".raw"
	if kt == KeyData {
		if id, ok := sniffContent(head, ex.opts.Identifiers); ok {
			info.ContentType = id.ContentType
			if id.Ext != "" {
				ext = id.Ext
			}
			for _, sniff := range ex.opts.Sniffers {
				if res := sniff(head); res.Certainty > 0 {
					info.Sniffs = append(info.Sniffs, res)
				}
			}
		}
	}
	info.Path = filepath.Join(ex.outDir, name+ext)

	f, err := os.Create(info.Path)
	if err != nil {
		return nil, err
	}
	return &extractStream{file: f, info: info}, nil
}

// closeAll flushes and closes every open stream, keeping the first
// close error. Safe to call twice, the deferred call is a no-op after
// the explicit one.
func (ex *extractor) closeAll() error {
	if ex.closed {
		return nil
	}
	ex.closed = true

	var first error
	for _, stream := range ex.streams {
		if err := stream.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ex *extractor) summary() []ExtractedStream {
	out := make([]ExtractedStream, 0, len(ex.order))
	for _, id := range ex.order {
		out = append(out, ex.streams[id].info)
	}
	return out
}
