package flows_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBatchRun(t *testing.T) {
	root := t.TempDir()
	ok := writePage(t, root, "site", "ok", map[string]string{"0.js": "fetch(location.hash);\n"})
	detect(t, flows.NewPage(ok, ""))
	missing := writePage(t, root, "site", "missing", nil)
	broken := writePage(t, root, "site", "broken", nil)
	writeSinkList(t, broken, `{"sinks": [`)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	batch := flows.NewBatch(flows.NewAnalyzer(memorySource(t), logger), 2, logger)

	pages := []flows.Page{flows.NewPage(ok, ""), flows.NewPage(missing, ""), flows.NewPage(broken, "")}
	summary, err := batch.Run(context.Background(), pages)
	require.NoError(t, err)
	assert.Equal(t, flows.BatchSummary{Analyzed: 1, Skipped: 1, Failed: 1}, summary)

	assert.Equal(t, 1, logs.FilterMessage("Skipping page without sink list").Len())
	assert.Equal(t, 1, logs.FilterMessage("Page analysis failed").Len())
	_, err = os.Stat(filepath.Join(ok, "sinks.flows.out.json"))
	assert.NoError(t, err)
}

func TestBatchRun_Cancelled(t *testing.T) {
	root := t.TempDir()
	dir := writePage(t, root, "site", "p", nil)
	writeSinkList(t, dir, `{"sinks": []}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := flows.NewBatch(flows.NewAnalyzer(memorySource(t), nil), 0, nil)
	_, err := batch.Run(ctx, []flows.Page{flows.NewPage(dir, "")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadPages(t *testing.T) {
	input := t.TempDir()
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, flows.WebpagesFile),
		[]byte(`{"b.com": ["p2", "p1"], "a.com": {"p0": 3}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(data, "b.com", "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "b.com", "p1", flows.URLFile), []byte("https://b.com/one\n"), 0o644))

	pages, err := flows.ReadPages(input, data)
	require.NoError(t, err)
	assert.Equal(t, []flows.Page{
		{URL: "p0", Dir: filepath.Join(data, "a.com", "p0"), Hash: "p0"},
		{URL: "https://b.com/one", Dir: filepath.Join(data, "b.com", "p1"), Hash: "p1"},
		{URL: "p2", Dir: filepath.Join(data, "b.com", "p2"), Hash: "p2"},
	}, pages)

	_, err = flows.ReadPages(t.TempDir(), data)
	assert.Error(t, err)
}

func TestNewPage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "abc123")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	assert.Equal(t, flows.Page{URL: "https://x/", Dir: dir, Hash: "abc123"}, flows.NewPage(dir, "https://x/"))
	assert.Equal(t, "abc123", flows.NewPage(dir+string(filepath.Separator), "").URL)
}
