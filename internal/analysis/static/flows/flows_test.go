package flows_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/graphbuilder"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedClock = func() time.Time { return time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC) }

// writePage creates dataDir/site/page with the given scripts and returns its directory.
func writePage(t *testing.T, root, site, page string, scripts map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, site, page)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func memorySource(t *testing.T) *flows.MemorySource {
	t.Helper()
	b, err := graphbuilder.New(config.FrontendTreeSitter, nil)
	require.NoError(t, err)
	return flows.NewMemorySource(b, 2, nil)
}

// detect builds the page graph, runs the detector and stores sinks.out.json.
func detect(t *testing.T, page flows.Page) *schemas.SinkList {
	t.Helper()
	ctx := context.Background()
	g, err := memorySource(t).Graph(ctx, page)
	require.NoError(t, err)
	list, err := flows.NewDetector(g, nil).Detect(ctx)
	require.NoError(t, err)
	require.NoError(t, reporting.WriteSinkList(page.Dir, list))
	return list
}

func writeSinkList(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, reporting.SinkListFile), []byte(body), 0o644))
}

func pageGraph(t *testing.T, page flows.Page) *knowledgegraph.InMemoryKG {
	t.Helper()
	g, err := memorySource(t).Graph(context.Background(), page)
	require.NoError(t, err)
	return g.(*knowledgegraph.InMemoryKG)
}
