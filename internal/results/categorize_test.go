package results

import (
	"testing"
	"unicode/utf8"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

func spans(pairs ...int) schemas.TaintSpan {
	var s schemas.TaintSpan
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Begin = append(s.Begin, pairs[i])
		s.End = append(s.End, pairs[i+1])
	}
	return s
}

func TestCategorize(t *testing.T) {
	const u = "https://good.com/path?x=1#frag"
	tests := []struct {
		name     string
		kind     string
		flowSink string
		str      string
		taint    schemas.TaintSpan
		want     Pattern
	}{
		{"query only", "fetch_url", "fetch.url", u, spans(22, 25), "0_0_0_0_0_0_1_1_0_0_0_0"},
		{"whole string", "fetch_url", "fetch.url", u, spans(0, len(u)), PatternWhole},
		{"whole string beyond the end", "window.open", "window.open", u, spans(0, 1000), PatternWhole},
		{"whole string stops later ranges", "fetch_url", "", u, spans(0, len(u), 22, 25), PatternWhole},
		{"scheme from start", "fetch_url", "", u, spans(0, 3), "1_1_0_0_0_0_0_0_0_0_0_0"},
		{"scheme not from start", "fetch_url", "", u, spans(2, 4), "1_0_0_0_0_0_0_0_0_0_0_0"},
		{"netloc to its end", "fetch_url", "", u, spans(12, 16), "0_0_1_1_0_0_0_0_0_0_0_0"},
		{"netloc prefix", "fetch_url", "", u, spans(8, 12), "0_0_1_0_0_0_0_0_0_0_0_0"},
		{"netloc through path", "fetch_url", "", u, spans(8, 19), "0_0_1_1_1_1_0_0_0_0_0_0"},
		{"path tail", "fetch_url", "", u, spans(18, 21), "0_0_0_0_1_0_0_0_0_0_0_0"},
		{"fragment", "fetch_url", "", u, spans(26, 30), "0_0_0_0_0_0_0_0_1_1_0_0"},
		{"separators only", "fetch_url", "", u, spans(21, 22, 25, 26), "0_0_0_0_0_0_0_0_0_0_0_0"},
		{"several ranges accumulate", "fetch_url", "", u, spans(0, 3, 26, 28), "1_1_0_0_0_0_0_0_1_1_0_0"},
		{"path params belong to no component", "fetch_url", "fetch", "http://a.com/p;x=1?q=2", spans(14, 18), "0_0_0_0_0_0_0_0_0_0_0_0"},
		{"path before params", "fetch_url", "fetch", "http://a.com/p;x=1?q=2", spans(12, 14), "0_0_0_0_1_1_0_0_0_0_0_0"},
		{"relative url", "xmlhttprequest_url", "", "/api?id=7", spans(5, 9), "0_0_0_0_0_0_1_1_0_0_0_0"},
		{"no ranges", "fetch_url", "", u, spans(), "0_0_0_0_0_0_0_0_0_0_0_0"},
		{"mismatched range arrays", "fetch_url", "", u, schemas.TaintSpan{Begin: []int{22, 0}, End: []int{25}}, "0_0_0_0_0_0_1_1_0_0_0_0"},
		{"uppercase scheme not found", "fetch_url", "", "HTTPS://a.b/", spans(0, 2), "0_0_0_0_0_0_0_0_0_0_0_0"},
		{"rune offsets", "fetch_url", "", "https://ä.de/ü?q=1", spans(15, 18), "0_0_0_0_0_0_1_1_0_0_0_0"},
		{"malformed", "fetch_url", "", "http://[::1/", spans(0, 3), PatternMalformed},
		{"body by sink kind", "fetch_data", "", "anything", spans(0, 8), PatternBody},
		{"body by flow sink", "fetch_url", "WebSocket.send", "https://a.b/", spans(0, 3), PatternBody},
		{"body wins over malformed", "xmlhttprequest_data", "", "http://[::1/", spans(0, 3), PatternBody},
		{"header by sink kind", "xmlhttprequest_sethdr", "", "http://[::1/", spans(0, 3), PatternHeader},
		{"header by flow sink", "fetch_url", "XMLHttpRequest.setRequestHeader", u, spans(0, len(u)), PatternHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.kind, tt.flowSink, tt.str, tt.taint))
		})
	}
}

func TestFlagsPattern(t *testing.T) {
	assert.Equal(t, PatternWhole, Flags{
		Scheme: true, SchemeStart: true, Netloc: true, NetlocEnd: true, Path: true, PathStart: true,
		Query: true, QueryStart: true, Fragment: true, FragmentStart: true,
	}.Pattern())
	assert.Equal(t, PatternBody, Flags{Body: true}.Pattern())
	assert.Equal(t, PatternHeader, Flags{Header: true}.Pattern())
}

func FuzzCategorize(f *testing.F) {
	f.Add([]byte("https://good.com/path?x=1#frag"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		str, err := c.GetString()
		if err != nil || !utf8.ValidString(str) {
			return
		}
		var span schemas.TaintSpan
		if err := c.GenerateStruct(&span); err != nil {
			return
		}
		kind := SinkTypes[len(str)%len(SinkTypes)]

		p := Categorize(kind, "", str, span)
		assert.Len(t, string(p), 23)

		if kind == headerSink || bodySinks[kind] {
			return
		}
		if _, err := SplitURL(str); err != nil {
			assert.Equal(t, PatternMalformed, p)
			return
		}
		whole := schemas.TaintSpan{Begin: []int{0}, End: []int{utf8.RuneCountInString(str)}}
		assert.Equal(t, PatternWhole, Categorize(kind, "", str, whole))
	})
}
