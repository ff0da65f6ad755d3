// Package reporting renders analysis results into their on-disk artifacts.
package reporting

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// Output formats of a flow report.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Artifact file names written into a page directory.
const (
	FlowTextFile = "sinks.flows.out"
	FlowJSONFile = "sinks.flows.out.json"
	SinkListFile = "sinks.out.json"
	GraphFile    = "graph.json"
)

// json mirrors the artifacts' historical encoding: indented by four spaces, non-ASCII and
// HTML characters kept verbatim, map keys sorted.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Reporter renders a page's flow report in one format.
type Reporter interface {
	Render(report *schemas.FlowReport) ([]byte, error)
	// FileName is the artifact the rendering is stored under.
	FileName() string
}

// New creates a reporter for the specified format.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case FormatText:
		return TextReporter{}, nil
	case FormatJSON:
		return JSONReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// MarshalIndent encodes v the way every JSON artifact is encoded.
func MarshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}

// Unmarshal decodes an artifact.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// JSONReporter renders sinks.flows.out.json.
type JSONReporter struct{}

func (JSONReporter) FileName() string { return FlowJSONFile }

// Render implements Reporter.
func (JSONReporter) Render(report *schemas.FlowReport) ([]byte, error) {
	out := *report
	if out.Flows == nil {
		out.Flows = []schemas.Flow{}
	}
	data, err := MarshalIndent(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow report: %w", err)
	}
	return data, nil
}
