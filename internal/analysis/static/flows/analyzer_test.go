package flows_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/mocks"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAnalyzePage_EndToEnd(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "page1", map[string]string{
		"0.js": "var u = window.location.hash;\nfetch(u);\n",
	})
	page := flows.NewPage(dir, "https://site/index.html")
	list := detect(t, page)
	require.Len(t, list.Sinks, 1)

	store := new(mocks.MockFlowStore)
	store.On("SaveFlowReport", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("*schemas.FlowReport")).Return(nil).Once()

	a := flows.NewAnalyzer(memorySource(t), nil, flows.WithClock(fixedClock), flows.WithStore(store))
	report, err := a.AnalyzePage(context.Background(), page)
	require.NoError(t, err)
	store.AssertExpectations(t)

	require.Len(t, report.Flows, 1)
	flow := report.Flows[0]
	assert.Equal(t, "page1", flow.Webpage)
	assert.Equal(t, "0.js", flow.Script)
	assert.Equal(t, string(list.Sinks[0].ID), flow.NodeID)
	assert.Equal(t, []string{"RD_WIN_LOC"}, flow.SemanticTypes)
	assert.Equal(t, []string{"u"}, flow.Variables)
	assert.Equal(t, schemas.VariableSlices{
		SemanticTypes: []string{"RD_WIN_LOC"},
		Slices:        []schemas.SliceRecord{{Index: "1", Loc: "1", Code: "var u = window.location.hash"}},
	}, flow.ProgramSlices["u"])

	// The cfg node is the statement carrying the call.
	g := pageGraph(t, page)
	cfg, err := g.GetNode(context.Background(), flow.CFGNodeID)
	require.NoError(t, err)
	assert.Equal(t, schemas.NodeExpressionStatement, cfg.Type)

	text, err := os.ReadFile(filepath.Join(dir, reporting.FlowTextFile))
	require.NoError(t, err)
	assert.Contains(t, string(text), "[timestamp] generated on 02/01/2024 03:04:05\n")
	assert.Contains(t, string(text), "[*] webpage URL: https://site/index.html\n")
	assert.Contains(t, string(text), "[*] sink_type: fetch\n[*] sink_code: fetch(u)\n")
	assert.Contains(t, string(text), "\n1:['RD_WIN_LOC'] variable=u\n\t1 (loc:1)- var u = window.location.hash\n")

	data, err := os.ReadFile(filepath.Join(dir, reporting.FlowJSONFile))
	require.NoError(t, err)
	var decoded schemas.FlowReport
	require.NoError(t, reporting.Unmarshal(data, &decoded))
	assert.Equal(t, "https://site/index.html", decoded.URL)
	assert.Equal(t, flow.ProgramSlices, decoded.Flows[0].ProgramSlices)
}

func TestAnalyzePage_SinkListMissing(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "empty", nil)
	a := flows.NewAnalyzer(memorySource(t), nil)

	_, err := a.AnalyzePage(context.Background(), flows.NewPage(dir, ""))
	assert.ErrorIs(t, err, flows.ErrSinkListMissing)
	_, statErr := os.Stat(filepath.Join(dir, reporting.FlowTextFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReport_DuplicateSinks(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "dups", nil)
	writeSinkList(t, dir, `{"sinks": [
		{"id": 7, "location": "L", "sink_type": "fetch", "sink_code": "first", "script": "/x/a.js",
		 "sink_identifiers": {}, "taint_possibility": {"RD_WIN_NAME": true, "RD_COOKIE": false}},
		{"id": "9", "location": "L", "sink_type": "fetch", "sink_code": "other", "script": "b.js",
		 "sink_identifiers": {}, "taint_possibility": {}},
		{"id": "7", "location": "L", "sink_type": "fetch", "sink_code": "second", "script": "/x/a.js",
		 "sink_identifiers": {}, "taint_possibility": {"RD_PM": true}}
	]}`)

	core, logs := observer.New(zapcore.WarnLevel)
	a := flows.NewAnalyzer(memorySource(t), zap.New(core), flows.WithClock(fixedClock))
	report, err := a.Report(context.Background(), flows.NewPage(dir, "u"))
	require.NoError(t, err)

	require.Len(t, report.Flows, 2)
	assert.Equal(t, "second", report.Flows[0].SinkCode, "later duplicate replaces the earlier one in place")
	assert.Equal(t, []string{"RD_PM"}, report.Flows[0].SemanticTypes)
	assert.Equal(t, "a.js", report.Flows[0].Script)
	assert.Equal(t, "other", report.Flows[1].SinkCode)
	assert.Empty(t, report.Flows[1].SemanticTypes)
	assert.Empty(t, report.Flows[0].CFGNodeID)

	assert.Equal(t, 3, logs.FilterMessage("Sink node not in page graph").Len())
}

func TestReport_FunctionSlicesAreBeautified(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "fn", map[string]string{
		"0.js": "var h = function(){ return 1; };\nfetch(h);\n",
	})
	page := flows.NewPage(dir, "")
	detect(t, page)
	// Force the identifier through even though its value is not a source.
	writeSinkListFor(t, page, "h")

	report, err := flows.NewAnalyzer(memorySource(t), nil).Report(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, report.Flows, 1)
	assert.Equal(t, "var h = function() {\n    ...\n}", report.Flows[0].ProgramSlices["h"].Slices[0].Code)

	plain, err := flows.NewAnalyzer(memorySource(t), nil, flows.WithBeautify(false)).Report(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "var h = function(){ ... }", plain.Flows[0].ProgramSlices["h"].Slices[0].Code)
}

// writeSinkListFor rewrites the page's sink list so that name is taintable as RD_WIN_NAME.
func writeSinkListFor(t *testing.T, page flows.Page, name string) {
	t.Helper()
	list, err := reporting.ReadSinkList(page.Dir)
	require.NoError(t, err)
	for i := range list.Sinks {
		list.Sinks[i].SinkIdentifiers = map[string][]string{"RD_WIN_NAME": {name}}
		list.Sinks[i].TaintPossibility = map[string]bool{"RD_WIN_NAME": true}
	}
	require.NoError(t, reporting.WriteSinkList(page.Dir, list))
}

type graphSourceFunc func(ctx context.Context, page flows.Page) (schemas.ProgramGraph, error)

func (f graphSourceFunc) Graph(ctx context.Context, page flows.Page) (schemas.ProgramGraph, error) {
	return f(ctx, page)
}

func TestReport_GraphErrors(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "broken", nil)
	writeSinkList(t, dir, `{"sinks": [{"id": "n1", "sink_type": "fetch", "taint_possibility": {}}]}`)

	g := new(mocks.MockProgramGraph)
	boom := errors.New("connection reset")
	g.On("GetNode", mock.Anything, "n1").Return(nil, boom)

	source := graphSourceFunc(func(context.Context, flows.Page) (schemas.ProgramGraph, error) { return g, nil })
	_, err := flows.NewAnalyzer(source, nil).Report(context.Background(), flows.NewPage(dir, ""))
	assert.ErrorIs(t, err, boom)
	g.AssertExpectations(t)
}

func TestReport_StoreFailure(t *testing.T) {
	dir := writePage(t, t.TempDir(), "site", "p", nil)
	writeSinkList(t, dir, `{"sinks": []}`)

	store := new(mocks.MockFlowStore)
	store.On("SaveFlowReport", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := flows.NewAnalyzer(memorySource(t), nil, flows.WithStore(store)).AnalyzePage(context.Background(), flows.NewPage(dir, ""))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "db down"))
}
