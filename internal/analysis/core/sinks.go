package core

import (
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// SinkKind is one supported request-sending API.
type SinkKind string

const (
	SinkWindowOpen    SinkKind = "window.open"
	SinkXHROpen       SinkKind = "xmlhttprequest.open"
	SinkXHRSend       SinkKind = "xmlhttprequest.send"
	SinkXHRSetHeader  SinkKind = "xmlhttprequest.setRequestHeader"
	SinkFetch         SinkKind = "fetch"
	SinkAjax          SinkKind = "ajax"
	SinkXHRPost       SinkKind = "xhrPost"
	SinkAsyncRequest  SinkKind = "asyncRequest"
	SinkSetForm       SinkKind = "setForm"
	SinkPageSpeed     SinkKind = "pagespeed"
	SinkAjaxSettings  SinkKind = "ajaxSettings"
	SinkWebSocket     SinkKind = "websocket"
	SinkWebSocketSend SinkKind = "websocket.send"
	SinkEventSource   SinkKind = "eventsource"
)

// SinkKinds lists every supported kind in catalog order.
var SinkKinds = []SinkKind{
	SinkWindowOpen, SinkXHROpen, SinkFetch, SinkAjax, SinkXHRPost, SinkAsyncRequest,
	SinkSetForm, SinkPageSpeed, SinkAjaxSettings, SinkXHRSend, SinkXHRSetHeader,
	SinkWebSocket, SinkWebSocketSend, SinkEventSource,
}

// SinkMatch is one discovered sink occurrence.
type SinkMatch struct {
	Kind SinkKind
	// Statement is the statement the call hangs off.
	Statement schemas.Node
	// Call is the call expression (a Property for ajaxSettings).
	Call schemas.Node
	// Argument carries the attacker-reachable value.
	Argument schemas.Node
	// Secondary is the `url` value of an ajax settings object, when present.
	Secondary *schemas.Node
	// Enclosing is the declaration or statement above Statement for wrapper APIs, when present.
	Enclosing *schemas.Node
}

// ProgramSlice is one step of a backward resolution chain.
type ProgramSlice struct {
	Code        string
	NodeID      string
	Identifiers []string
	Location    schemas.Location
}
