package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider(t *testing.T) {
	root := t.TempDir()
	p := FileProvider{InputDir: root, OutputDir: root, DataDir: filepath.Join(root, "data")}
	ctx := context.Background()

	assert.Equal(t, filepath.Join(root, "taintflows_count_filter_win_name_script_src_topframe.json"), p.CountFile("win_name", "script_src"))
	assert.Equal(t, filepath.Join(root, "data", "s", "w", "taintflows_filter_win_name_script_src_topframe.json"),
		p.TaintflowFile("s", "w", "win_name", "script_src"))

	_, err := p.Webpages(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(root, WebpagesFile), []byte(`{"s": ["w"]}`), 0o644))
	index, err := p.Webpages(ctx)
	require.NoError(t, err)
	assert.True(t, index.Contains("s", "w"))

	require.NoError(t, os.WriteFile(p.CountFile("win_name", "script_src"), []byte(`{"s": {"w": 3}}`), 0o644))
	counts, err := p.FlowCounts(ctx, "win_name", "script_src")
	require.NoError(t, err)
	assert.Contains(t, counts["s"], "w")

	path := p.TaintflowFile("s", "w", "win_name", "script_src")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`[{"sink": "script.src", "str": "x", "taint": [{"begin": [0], "end": [1]}]}]`), 0o644))
	entries, err := p.Taintflows(ctx, "s", "w", "win_name", "script_src")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []int{1}, entries[0].Taint[0].End)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Taintflows(cancelled, "s", "w", "win_name", "script_src")
	assert.ErrorIs(t, err, context.Canceled)
}
