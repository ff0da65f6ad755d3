package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// -- Sink List Schemas (input of the flow reporter) --

// SinkID is a sink's node id. Sink lists written by different tools encode it either as a
// JSON number or a JSON string; both decode to the same text.
type SinkID string

// UnmarshalJSON accepts a number or a string.
func (id *SinkID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SinkID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("sink id must be a number or string: %w", err)
	}
	*id = SinkID(n.String())
	return nil
}

// SinkRecord describes one discovered sink occurrence on a page.
type SinkRecord struct {
	ID       SinkID `json:"id"`
	Location string `json:"location"`
	SinkType string `json:"sink_type"`
	SinkCode string `json:"sink_code"`
	Script   string `json:"script"`
	// SinkIdentifiers maps a semantic type to the identifiers taintable under it.
	SinkIdentifiers map[string][]string `json:"sink_identifiers"`
	// TaintPossibility marks which semantic types can reach the sink at all.
	TaintPossibility map[string]bool `json:"taint_possibility"`
}

// SinkList is the content of a page's sinks.out.json.
type SinkList struct {
	Sinks []SinkRecord `json:"sinks"`
}

// -- Flow Report Schemas (output of the flow reporter) --

// SliceRecord is one rendered program slice.
type SliceRecord struct {
	Index string `json:"index"`
	Loc   string `json:"loc"`
	Code  string `json:"code"`
}

// VariableSlices groups the slices resolved for one taintable variable.
type VariableSlices struct {
	SemanticTypes []string      `json:"semantic_types"`
	Slices        []SliceRecord `json:"slices"`
}

// Flow is the structured record of one sink and everything resolved for it.
type Flow struct {
	Webpage       string                    `json:"webpage"`
	Script        string                    `json:"script"`
	SemanticTypes []string                  `json:"semantic_types"`
	NodeID        string                    `json:"node_id"`
	CFGNodeID     string                    `json:"cfg_node_id"`
	Loc           string                    `json:"loc"`
	SinkType      string                    `json:"sink_type"`
	SinkCode      string                    `json:"sink_code"`
	ProgramSlices map[string]VariableSlices `json:"program_slices"`

	// Variables keeps the resolution order of ProgramSlices keys for rendering.
	Variables []string `json:"-"`
}

// FlowReport is the content of a page's sinks.flows.out.json.
type FlowReport struct {
	URL   string `json:"url"`
	Flows []Flow `json:"flows"`

	GeneratedAt time.Time `json:"-"`
}
