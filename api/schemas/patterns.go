package schemas

import (
	"encoding/json"
	"fmt"
)

// -- Categorizer Input Schemas --

// TaintSpan lists the attacker-controlled ranges of one taint flow as parallel begin/end
// offset arrays (half-open).
type TaintSpan struct {
	Begin []int `json:"begin"`
	End   []int `json:"end"`
}

// TaintflowEntry is one recorded sink invocation and the taint flows that reached it.
type TaintflowEntry struct {
	Sink  string      `json:"sink"`
	Str   string      `json:"str"`
	Taint []TaintSpan `json:"taint"`
}

// FlowCountFile is website -> webpage -> flow count. Only the keys are consumed.
type FlowCountFile map[string]map[string]json.RawMessage

// WebpageIndex is the set of analyzable webpages per website.
type WebpageIndex map[string]map[string]struct{}

// Contains reports whether the website/webpage pair is listed.
func (w WebpageIndex) Contains(website, webpage string) bool {
	pages, ok := w[website]
	if !ok {
		return false
	}
	_, ok = pages[webpage]
	return ok
}

// HasWebsite reports whether any page of the website is listed.
func (w WebpageIndex) HasWebsite(website string) bool {
	_, ok := w[website]
	return ok
}

// UnmarshalJSON accepts {site: [page, ...]} or {site: {page: ...}}.
func (w *WebpageIndex) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(WebpageIndex, len(raw))
	for site, body := range raw {
		pages := make(map[string]struct{})
		var list []string
		if err := json.Unmarshal(body, &list); err == nil {
			for _, p := range list {
				pages[p] = struct{}{}
			}
			out[site] = pages
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return fmt.Errorf("webpages of %q must be a list or an object: %w", site, err)
		}
		for p := range obj {
			pages[p] = struct{}{}
		}
		out[site] = pages
	}
	*w = out
	return nil
}

// -- Categorizer Output Schemas --

// PatternStats carries the six pattern count maps of one categorizer run.
type PatternStats struct {
	Patterns       map[string]int            `json:"req_patterns"`
	PatternsWB     map[string]int            `json:"req_patterns_wb"`
	PatternsWS     map[string]int            `json:"req_patterns_ws"`
	SinkPatterns   map[string]map[string]int `json:"req_sink_patterns"`
	SinkPatternsWB map[string]map[string]int `json:"req_sink_patterns_wb"`
	SinkPatternsWS map[string]map[string]int `json:"req_sink_patterns_ws"`
}
