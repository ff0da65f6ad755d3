// Package semantic labels program slices with the source API their value is read from.
package semantic

import (
	"strings"

	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
)

// rule maps a set of substrings to the semantic type they indicate.
type rule struct {
	semType core.SemanticType
	markers []string
}

// rules are matched as plain substrings against slice code and mentioned identifiers.
var rules = []rule{
	{core.ReadWinLocation, []string{
		"window.location", "win.location", "w.location",
		"location.href", "location.hash", "loc.href", "loc.hash",
		"History.getBookmarkedState",
	}},
	{core.ReadWinName, []string{"window.name", "win.name"}},
	{core.ReadDocReferrer, []string{"document.referrer", "doc.referrer", "d.referrer"}},
	{core.ReadPostMessage, []string{"event.data", "evt.data"}},
	{core.ReadDOMTree, []string{
		"document.getElement", "document.querySelector", "doc.getElement", "doc.querySelector",
		".getElementBy", ".getElementsBy", ".querySelector",
		"$(", "jQuery(", ".attr(", ".getAttribute(", ".readAttribute(",
	}},
	{core.ReadWebStorage, []string{"localStorage", "sessionStorage"}},
	{core.ReadCookie, []string{"document.cookie", "doc.cookie"}},
	{core.ReqPushSub, []string{"pushManager.getSubscription", "pushManager.subscribe", "pushManager"}},
}

// Markers returns the substrings that indicate t. Unknown types and NON_REACHABLE have none.
func Markers(t core.SemanticType) []string {
	for _, r := range rules {
		if r.semType == t {
			return append([]string(nil), r.markers...)
		}
	}
	return nil
}

// Match returns the semantic types indicated by a single piece of text, in table order.
func Match(text string) []core.SemanticType {
	var out []core.SemanticType
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(text, m) {
				out = append(out, r.semType)
				break
			}
		}
	}
	return out
}

// Classify returns the sorted, duplicate-free semantic types of a slice set. Both the code
// and every mentioned identifier of each slice are inspected. A set with no match yields
// exactly {NON_REACHABLE}.
func Classify(slices []core.ProgramSlice) []core.SemanticType {
	set := core.SemanticSet{}
	for _, s := range slices {
		set.Add(Match(s.Code)...)
		for _, ident := range s.Identifiers {
			set.Add(Match(ident)...)
		}
	}
	if len(set) == 0 {
		return []core.SemanticType{core.NonReachable}
	}
	return set.Sorted()
}

// Reduce deduplicates a multiset of types. NON_REACHABLE is dropped when any other type is
// present and is the sole result for an empty input.
func Reduce(types []core.SemanticType) []core.SemanticType {
	set := core.SemanticSet{}
	set.Add(types...)
	if len(set) > 1 {
		delete(set, core.NonReachable)
	}
	if len(set) == 0 {
		return []core.SemanticType{core.NonReachable}
	}
	return set.Sorted()
}
