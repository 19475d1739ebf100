package opx

import (
	"encoding/json"
	"io"

	"github.com/nathanpbutler/libopx-sub002/klv"
	"gopkg.in/yaml.v3"
)

// Layout describes the structure of a container: its partitions in
// file order, each with the essence streams found inside it.
type Layout struct {
	Partitions []*PartitionLayout `yaml:"Partitions" json:"Partitions"`
}

// PartitionLayout is one partition of the report.
type PartitionLayout struct {
	Type            string `yaml:"Type" json:"Type"`
	Offset          int64  `yaml:"Offset" json:"Offset"`
	KAGSize         uint32 `yaml:"KAGSize,omitempty" json:"KAGSize,omitempty"`
	HeaderByteCount uint64 `yaml:"HeaderByteCount,omitempty" json:"HeaderByteCount,omitempty"`
	IndexByteCount  uint64 `yaml:"IndexByteCount,omitempty" json:"IndexByteCount,omitempty"`
	// Frames is the count of system packets in the partition
	Frames  int              `yaml:"Frames,omitempty" json:"Frames,omitempty"`
	Essence []*EssenceLayout `yaml:"Essence,omitempty" json:"Essence,omitempty"`
}

// EssenceLayout aggregates every unit of one key within a partition.
type EssenceLayout struct {
	Key         string `yaml:"Key" json:"Key"`
	Symbol      string `yaml:"Symbol,omitempty" json:"Symbol,omitempty"`
	Description string `yaml:"Description,omitempty" json:"Description,omitempty"`
	FirstOffset int64  `yaml:"FirstOffset" json:"FirstOffset"`
	Units       int    `yaml:"Units" json:"Units"`
	Bytes       int64  `yaml:"Bytes" json:"Bytes"`
}

// Describe walks a container and writes its layout to w as YAML, or
// JSON when asJSON is set. Only unit headers and partition packs are
// ever read, essence values are skipped over.
func Describe(doc io.ReadSeeker, w io.Writer, asJSON bool, reg *Registry) error {
	if reg == nil {
		reg = NewRegistry()
	}

	layout, err := describe(doc, reg)
	if err != nil {
		return err
	}

	var out []byte
	if asJSON {
		out, err = json.MarshalIndent(layout, "", "    ")
	} else {
		out, err = yaml.Marshal(layout)
	}
	if err != nil {
		return err
	}

	_, err = w.Write(out)
	return err
}

func describe(doc io.ReadSeeker, reg *Registry) (*Layout, error) {
	size, err := klv.StreamSize(doc)
	if err != nil {
		return nil, err
	}
	if _, err := doc.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	layout := &Layout{}
	var current *PartitionLayout
	// aggregate essence per key within the current partition
	var essence map[string]*EssenceLayout

	for {
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

		if kind := partitionKind(k.Key); kind != "" {
			current = &PartitionLayout{Type: kind, Offset: k.Offset}
			layout.Partitions = append(layout.Partitions, current)
			essence = make(map[string]*EssenceLayout)

			if kind == ripPartitionKind {
				if err := klv.Skip(doc, k); err != nil {
					return nil, err
				}
				continue
			}

			value, err := klv.ReadValue(doc, k)
			if err != nil {
				return nil, err
			}
			pack, err := ParsePartition(value)
			if err != nil {
				return nil, err
			}
			current.KAGSize = pack.KAGSize
			current.HeaderByteCount = pack.HeaderByteCount
			current.IndexByteCount = pack.IndexByteCount
			continue
		}

		kt := reg.Classify(k.Key)
		if current != nil && kt != KeyFill {
			name := ULString(k.Key)
			entry, ok := essence[name]
			if !ok {
				entry = &EssenceLayout{Key: name, FirstOffset: k.Offset}
				if ess, found := essenceSymbol(k.Key); found {
					entry.Symbol = ess.Symbol
					entry.Description = ess.Definition
				}
				essence[name] = entry
				current.Essence = append(current.Essence, entry)
			}
			entry.Units++
			entry.Bytes += k.LengthValue

			if kt == KeySystem {
				current.Frames++
			}
		}

		if err := klv.Skip(doc, k); err != nil {
			return nil, err
		}
	}

	return layout, nil
}
