package opx

// CType is a content type label for data found inside a container,
// e.g. "application/json". A separate type to make the constants easy
// to identify with autocomplete etc.
type CType string

// Identifier pairs a content detection function with the content type
// it detects. Extraction probes the first bytes of each data stream
// against the configured identifiers to tag the stream and pick a
// file extension.
type Identifier struct {
	// Detect reports whether the byte stream looks like this content type.
	Detect func(data []byte) bool
	// ContentType is recorded in the extraction summary on a match.
	ContentType CType
	// Ext is the file extension for matching streams, including the dot.
	Ext string
}

// SniffResult is the outcome of one sniffer run over a data stream.
type SniffResult struct {
	// The sniff key, e.g. a schema name or an XML path
	Key string
	// The value the sniffer found
	Field string
	// Certainty of the result as a percentage, zero means no result
	Certainty float64
}

// Sniffer takes a data stream, sniffs it (a quick look at the bytes)
// and returns what it found. Sniffers run on extracted data streams
// after an identifier has matched.
type Sniffer func(data []byte) SniffResult

// sniffContent runs the identifiers in order, returning the first
// match. The zero Identifier return means nothing matched.
func sniffContent(data []byte, identifiers []Identifier) (Identifier, bool) {
	for _, id := range identifiers {
		if id.Detect != nil && id.Detect(data) {
			return id, true
		}
	}
	return Identifier{}, false
}
