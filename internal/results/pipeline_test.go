package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/internal/mocks"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"github.com/xkilldash9x/reqhijack/internal/results/providers"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// crawl lays out one loc_hash/fetch_url pair: a.com/p1 has flows, a.com/p2 lacks its flow
// file, a.com/p3 and z.com are not in the webpage index.
func crawl(t *testing.T) providers.FileProvider {
	t.Helper()
	root := t.TempDir()
	p := providers.FileProvider{
		InputDir:  filepath.Join(root, "input"),
		OutputDir: filepath.Join(root, "outputs"),
		DataDir:   filepath.Join(root, "data"),
	}
	writeFile(t, filepath.Join(p.InputDir, providers.WebpagesFile), `{"a.com": ["p1", "p2"], "z.org": ["q"]}`)
	writeFile(t, p.CountFile("loc_hash", "fetch_url"), `{"a.com": {"p1": 2, "p2": 1, "p3": 4}, "z.com": {"q": 1}}`)
	writeFile(t, p.TaintflowFile("a.com", "p1", "loc_hash", "fetch_url"), `[
		{"sink": "fetch.url", "str": "https://good.com/path?x=1#frag",
		 "taint": [{"begin": [22], "end": [25]}, {"begin": [0], "end": [30]}]},
		{"sink": "fetch.body", "str": "payload", "taint": [{"begin": [0], "end": [7]}]}
	]`)
	writeFile(t, p.TaintflowFile("a.com", "p3", "loc_hash", "fetch_url"), `[
		{"sink": "fetch.url", "str": "https://x/", "taint": [{"begin": [0], "end": [3]}]}
	]`)
	return p
}

func TestPipelineRun_SinglePair(t *testing.T) {
	p := crawl(t)
	core, logs := observer.New(zapcore.WarnLevel)
	store := new(mocks.MockFlowStore)
	store.On("SavePatternStats", mock.Anything, mock.AnythingOfType("string"), "loc_hash_fetch_url_", mock.Anything).Return(nil).Once()

	pipeline := NewPipeline(p, p.OutputDir, zap.New(core), WithStore(store))
	sel, err := ParseSelection("loc_hash", "fetch_url")
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), sel)
	require.NoError(t, err)
	store.AssertExpectations(t)

	assert.Equal(t, 3, summary.Flows)
	assert.Zero(t, summary.MissingPairs)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, map[string]int{
		"0_0_0_0_0_0_1_1_0_0_0_0": 1,
		string(PatternWhole):      1,
		string(PatternBody):       1,
	}, summary.Stats.Patterns)
	assert.Equal(t, summary.Stats.Patterns, summary.Stats.SinkPatterns["fetch_url"])
	assert.Equal(t, 1, logs.FilterMessage("Taintflow file missing").Len())

	dir := filepath.Join(p.OutputDir, PatternsDir)
	for _, name := range reporting.PatternFileNames("loc_hash_fetch_url_") {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	data, err := os.ReadFile(filepath.Join(dir, "loc_hash_fetch_url_req_patterns_ws.json"))
	require.NoError(t, err)
	var ws map[string]int
	require.NoError(t, reporting.Unmarshal(data, &ws))
	assert.Equal(t, map[string]int{"0_0_0_0_0_0_1_1_0_0_0_0": 1, string(PatternWhole): 1, string(PatternBody): 1}, ws)
}

func TestPipelineRun_AllPairs(t *testing.T) {
	p := crawl(t)
	pipeline := NewPipeline(p, p.OutputDir, nil, WithWorkers(4))

	summary, err := pipeline.Run(context.Background(), Selection{Source: All, Sink: All})
	require.NoError(t, err)
	assert.Equal(t, "all_", summary.Slug)
	assert.Equal(t, len(SourceTypes)*len(SinkTypes), summary.Pairs)
	assert.Equal(t, summary.Pairs-1, summary.MissingPairs)
	assert.Equal(t, 3, summary.Flows)

	_, err = os.Stat(filepath.Join(p.OutputDir, PatternsDir, "all_req_sink_patterns_wb.json"))
	assert.NoError(t, err)
}

func TestPipelineRun_Errors(t *testing.T) {
	t.Run("missing webpage index", func(t *testing.T) {
		p := providers.FileProvider{InputDir: t.TempDir(), OutputDir: t.TempDir(), DataDir: t.TempDir()}
		_, err := NewPipeline(p, p.OutputDir, nil).Run(context.Background(), Selection{Source: All, Sink: All})
		assert.ErrorIs(t, err, providers.ErrNotFound)
	})

	t.Run("malformed flow file aborts the run", func(t *testing.T) {
		p := crawl(t)
		writeFile(t, p.TaintflowFile("a.com", "p2", "loc_hash", "fetch_url"), `[{"sink": `)
		_, err := NewPipeline(p, p.OutputDir, nil).Run(context.Background(), Selection{Source: "loc_hash", Sink: "fetch_url"})
		assert.ErrorContains(t, err, "malformed")
		_, statErr := os.Stat(filepath.Join(p.OutputDir, PatternsDir))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("cancelled", func(t *testing.T) {
		p := crawl(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPipeline(p, p.OutputDir, nil).Run(ctx, Selection{Source: "loc_hash", Sink: "fetch_url"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
