// Package xmlhandle identifies and probes XML data essence pulled out
// of a container during extraction.
package xmlhandle

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/antchfx/xmlquery"
	opx "github.com/nathanpbutler/libopx-sub002"
)

const (
	// Content is the XML content type
	Content opx.CType = "text/xml"
)

// Identifier tags data streams that parse as an XML document.
var Identifier = opx.Identifier{Detect: isXML, ContentType: Content, Ext: ".xml"}

func isXML(data []byte) bool {
	// cheap rejection before decoding, json and yaml never open with <
	if len(data) < 4 || data[0] != '<' {
		return false
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	var err error
	for err == nil {
		err = decoder.Decode(new(interface{}))
	}

	// valid XML runs out of input, bad XML errors first
	return err == io.EOF
}

/*
PathSniffer builds a sniffer that searches an XML document for an
xpath and reports the value of the node it finds.

It searches using the xpath library https://github.com/antchfx/xpath

Common searches include:

  - "/*" - find the root element
  - "namespace-uri(/*)" - find the namespace of the root element
*/
func PathSniffer(path string) opx.Sniffer {
	if path == "namespace-uri(/*)" {
		// xpath functions cannot be evaluated directly, read the xmlns
		// attribute off the root instead
		return func(data []byte) opx.SniffResult {
			doc, err := xmlquery.Parse(bytes.NewReader(data))
			if err != nil {
				return opx.SniffResult{}
			}
			root := xmlquery.FindOne(doc, "/*")
			if root == nil {
				return opx.SniffResult{}
			}
			for _, attr := range root.Attr {
				if attr.Name.Local == "xmlns" {
					return opx.SniffResult{Key: path, Field: attr.Value, Certainty: 100}
				}
			}
			return opx.SniffResult{}
		}
	}

	return func(data []byte) opx.SniffResult {
		doc, err := xmlquery.Parse(bytes.NewReader(data))
		if err != nil {
			return opx.SniffResult{}
		}
		node := xmlquery.FindOne(doc, path)
		if node == nil {
			return opx.SniffResult{}
		}

		var value string
		switch node.Type {
		case xmlquery.AttributeNode:
			value = node.InnerText()
		default:
			value = node.Data
		}
		return opx.SniffResult{Key: path, Field: value, Certainty: 100}
	}
}
