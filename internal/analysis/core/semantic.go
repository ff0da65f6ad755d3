package core

import "sort"

// SemanticType names the source API a traced value most likely originates from.
type SemanticType string

const (
	NonReachable    SemanticType = "NON_REACHABLE"
	ReadWinLocation SemanticType = "RD_WIN_LOC"
	ReadWinName     SemanticType = "RD_WIN_NAME"
	ReadDocReferrer SemanticType = "RD_DOC_REF"
	ReadPostMessage SemanticType = "RD_PM"
	ReadDOMTree     SemanticType = "RD_DOM_TREE"
	ReadWebStorage  SemanticType = "RD_WEB_STORAGE"
	ReadCookie      SemanticType = "RD_COOKIE"
	ReqPushSub      SemanticType = "REQ_PUSH_SUB"
)

// SemanticTypes lists every type in declaration order.
var SemanticTypes = []SemanticType{
	NonReachable, ReadWinLocation, ReadWinName, ReadDocReferrer, ReadPostMessage,
	ReadDOMTree, ReadWebStorage, ReadCookie, ReqPushSub,
}

// Valid reports whether t belongs to the closed vocabulary.
func (t SemanticType) Valid() bool {
	for _, known := range SemanticTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SemanticSet is an unordered set of semantic types.
type SemanticSet map[SemanticType]struct{}

// Add inserts types into the set.
func (s SemanticSet) Add(types ...SemanticType) {
	for _, t := range types {
		s[t] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s SemanticSet) Sorted() []SemanticType {
	out := make([]SemanticType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings converts types to their wire form.
func Strings(types []SemanticType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
