// Package results categorizes recorded taint flows by the URL components the attacker
// controls and aggregates the resulting patterns over a crawl.
package results

import (
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// Pattern is the structural taint pattern of one flow: twelve underscore-joined flags
// (scheme, scheme from start, netloc, netloc to end, path, path from start, query, query from
// start, fragment, fragment from start, body, header).
type Pattern string

// Fixed patterns.
const (
	PatternWhole     Pattern = "1_1_1_1_1_1_1_1_1_1_0_0"
	PatternBody      Pattern = "0_0_0_0_0_0_0_0_0_0_1_0"
	PatternHeader    Pattern = "0_0_0_0_0_0_0_0_0_0_0_1"
	PatternMalformed Pattern = "x_x_x_x_x_x_x_x_x_x_x_x"
)

// Flags are the components of a Pattern.
type Flags struct {
	Scheme, SchemeStart     bool
	Netloc, NetlocEnd       bool
	Path, PathStart         bool
	Query, QueryStart       bool
	Fragment, FragmentStart bool
	Body, Header            bool
}

// Pattern renders the flags.
func (f Flags) Pattern() Pattern {
	bits := []bool{
		f.Scheme, f.SchemeStart, f.Netloc, f.NetlocEnd, f.Path, f.PathStart,
		f.Query, f.QueryStart, f.Fragment, f.FragmentStart, f.Body, f.Header,
	}
	parts := make([]string, len(bits))
	for i, b := range bits {
		parts[i] = "0"
		if b {
			parts[i] = "1"
		}
	}
	return Pattern(strings.Join(parts, "_"))
}

var (
	bodySinks      = map[string]bool{"websocket_data": true, "xmlhttprequest_data": true, "fetch_data": true}
	bodyFlowSinks  = map[string]bool{"WebSocket.send": true, "fetch.body": true, "XMLHttpRequest.send": true}
	headerSink     = "xmlhttprequest_sethdr"
	headerFlowSink = "XMLHttpRequest.setRequestHeader"
)

// span is a half-open rune interval; ok is false when the component text was not found.
type span struct {
	start, stop int
	ok          bool
}

func (s span) intersects(b, e int) bool {
	return s.ok && s.start < s.stop && max(s.start, b) < min(s.stop, e)
}

// locate returns the rune span of the first occurrence of part in s.
func locate(s, part string) span {
	i := strings.Index(s, part)
	if i < 0 {
		return span{}
	}
	start := utf8.RuneCountInString(s[:i])
	return span{start: start, stop: start + utf8.RuneCountInString(part), ok: true}
}

// Categorize computes the pattern of one taint flow. sinkKind is the selected sink category,
// flowSink the API recorded for the flow, sinkString the value that reached it and taint the
// attacker-controlled rune ranges of that value.
func Categorize(sinkKind, flowSink, sinkString string, taint schemas.TaintSpan) Pattern {
	switch {
	case bodySinks[sinkKind] || bodyFlowSinks[flowSink]:
		return PatternBody
	case sinkKind == headerSink || flowSink == headerFlowSink:
		return PatternHeader
	}

	parts, err := SplitURL(sinkString)
	if err != nil {
		return PatternMalformed
	}
	scheme := locate(sinkString, parts.Scheme)
	netloc := locate(sinkString, parts.Netloc)
	path := locate(sinkString, parts.Path)
	query := locate(sinkString, parts.Query)
	fragment := locate(sinkString, parts.Fragment)

	runes := []rune(sinkString)
	var f Flags
	n := min(len(taint.Begin), len(taint.End))
	for i := 0; i < n; i++ {
		b, e := taint.Begin[i], taint.End[i]
		if slice(runes, b, e) == sinkString {
			return PatternWhole
		}
		if scheme.intersects(b, e) {
			f.Scheme = true
			f.SchemeStart = f.SchemeStart || scheme.start == b
		}
		if netloc.intersects(b, e) {
			f.Netloc = true
			f.NetlocEnd = f.NetlocEnd || e >= netloc.stop
		}
		if path.intersects(b, e) {
			f.Path = true
			f.PathStart = f.PathStart || b <= path.start
		}
		if query.intersects(b, e) {
			f.Query = true
			f.QueryStart = f.QueryStart || b <= query.start
		}
		if fragment.intersects(b, e) {
			f.Fragment = true
			f.FragmentStart = f.FragmentStart || b <= fragment.start
		}
	}
	return f.Pattern()
}

// slice returns runes[b:e] with negative indices counted from the end and both bounds
// clamped, so that out-of-range taint offsets never panic.
func slice(runes []rune, b, e int) string {
	n := len(runes)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n)
	}
	b, e = clamp(b), clamp(e)
	if b >= e {
		return ""
	}
	return string(runes[b:e])
}
