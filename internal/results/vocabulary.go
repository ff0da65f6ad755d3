package results

import (
	"errors"
	"fmt"
	"strings"
)

// All selects every member of a vocabulary.
const All = "all"

// SinkTypes is the sink vocabulary of the taint flow inputs, in processing order.
var SinkTypes = []string{
	"websocket_url", "websocket_data", "eventsource_url",
	"fetch_url", "fetch_data",
	"xmlhttprequest_url", "xmlhttprequest_data", "xmlhttprequest_sethdr",
	"window.open", "loc_assign", "script_src",
}

// SourceTypes is the source vocabulary of the taint flow inputs, in processing order.
var SourceTypes = []string{
	"loc_href", "loc_hash", "loc_search",
	"win_name", "doc_referrer", "doc_baseuri", "doc_uri",
	"message_evt", "pushsub_endpoint",
}

// ErrUnknownSelection is returned for a source or sink outside the vocabularies.
var ErrUnknownSelection = errors.New("unknown source or sink")

// Pair is one (source, sink) category combination.
type Pair struct {
	Source string
	Sink   string
}

// Selection chooses which (source, sink) pairs a run processes.
type Selection struct {
	Source string
	Sink   string
}

// ParseSelection validates a source and sink name. Names are case-insensitive and an empty
// name means All.
func ParseSelection(source, sink string) (Selection, error) {
	sel := Selection{Source: normalize(source), Sink: normalize(sink)}
	if sel.Source != All && !contains(SourceTypes, sel.Source) {
		return Selection{}, fmt.Errorf("%w: source=%q", ErrUnknownSelection, source)
	}
	if sel.Sink != All && !contains(SinkTypes, sel.Sink) {
		return Selection{}, fmt.Errorf("%w: sink=%q", ErrUnknownSelection, sink)
	}
	return sel, nil
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return All
	}
	return name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Pairs expands the selection, iterating sinks in the outer loop.
func (s Selection) Pairs() []Pair {
	sources := []string{s.Source}
	if s.Source == All {
		sources = SourceTypes
	}
	sinks := []string{s.Sink}
	if s.Sink == All {
		sinks = SinkTypes
	}
	out := make([]Pair, 0, len(sources)*len(sinks))
	for _, sink := range sinks {
		for _, source := range sources {
			out = append(out, Pair{Source: source, Sink: sink})
		}
	}
	return out
}

// Slug prefixes the output file names of the selection.
func (s Selection) Slug() string {
	if s.Source == All && s.Sink == All {
		return "all_"
	}
	return s.Source + "_" + s.Sink + "_"
}
