package graphbuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"golang.org/x/sync/errgroup"
)

// ScriptExt is the extension of the scripts collected from a page directory.
const ScriptExt = ".js"

// PageScripts lists the scripts directly inside dir, sorted by name.
func PageScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list page directory %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ScriptExt) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// ScriptPrefix is the node id prefix of a script within a namespace (usually the page hash).
func ScriptPrefix(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

// BuildDir parses every script of a page directory into w, using up to workers parsers in
// parallel. Each script is parsed into its own buffer and the buffers are written to w in
// script name order, so the insertion order of w never depends on scheduling. Node ids are
// prefixed with ScriptPrefix(namespace, file), so rebuilding the same directory yields the
// same ids. It returns the Program node id per script name.
func BuildDir(ctx context.Context, b Builder, dir, namespace string, w schemas.GraphWriter, workers int) (map[string]string, error) {
	names, err := PageScripts(dir)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}

	roots := make([]string, len(names))
	buffers := make([]*recorder, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			src, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("failed to read script %s: %w", name, err)
			}
			buf := &recorder{}
			root, err := b.Build(gctx, Script{Name: name, Source: src, IDPrefix: ScriptPrefix(namespace, name)}, buf)
			if err != nil {
				return err
			}
			roots[i], buffers[i] = root, buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		if err := buffers[i].replay(ctx, w); err != nil {
			return nil, fmt.Errorf("failed to store graph of %s: %w", name, err)
		}
		out[name] = roots[i]
	}
	return out, nil
}

// recorder is a GraphWriter that keeps the writes of one script in call order.
type recorder struct {
	ops []recordedOp
}

type recordedOp struct {
	node *schemas.Node
	edge *schemas.Edge
}

func (r *recorder) AddNode(_ context.Context, node schemas.Node) error {
	r.ops = append(r.ops, recordedOp{node: &node})
	return nil
}

func (r *recorder) AddEdge(_ context.Context, edge schemas.Edge) error {
	r.ops = append(r.ops, recordedOp{edge: &edge})
	return nil
}

func (r *recorder) replay(ctx context.Context, w schemas.GraphWriter) error {
	for _, op := range r.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if op.node != nil {
			err = w.AddNode(ctx, *op.node)
		} else {
			err = w.AddEdge(ctx, *op.edge)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
