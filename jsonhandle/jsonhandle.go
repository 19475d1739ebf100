// Package jsonhandle identifies and probes JSON data essence pulled
// out of a container during extraction.
package jsonhandle

import (
	"bytes"
	"encoding/json"

	opx "github.com/nathanpbutler/libopx-sub002"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	// Content is the JSON content type
	Content opx.CType = "application/json"
)

// Identifier tags data streams that parse as a JSON document.
var Identifier = opx.Identifier{Detect: isJSON, ContentType: Content, Ext: ".json"}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(data)
}

// SchemaCheck builds a sniffer that validates a data stream against a
// **local** JSON schema. A stream that validates sniffs as "pass"
// under the given key, anything else returns an empty result with no
// inclination of why it failed.
//
// Validation reads the whole document, so do not expect quick results
// on large payloads or complex schemas.
func SchemaCheck(schemaFile []byte, key string) (opx.Sniffer, error) {
	compiler := jsonschema.NewCompiler()

	var schema any
	if err := json.Unmarshal(schemaFile, &schema); err != nil {
		return nil, err
	}
	if err := compiler.AddResource("schema.json", schema); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}

	return func(data []byte) opx.SniffResult {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return opx.SniffResult{}
		}
		if err := compiled.Validate(doc); err != nil {
			return opx.SniffResult{}
		}
		return opx.SniffResult{Key: key, Field: "pass", Certainty: 100}
	}, nil
}
