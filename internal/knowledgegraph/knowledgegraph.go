package knowledgegraph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
)

// InMemoryKG is an ephemeral program graph. It is the default backend for single-page
// analysis and the target of the graph front-ends.
type InMemoryKG struct {
	nodes    map[string]schemas.Node
	order    []string                // node ids in insertion order
	edges    map[string]schemas.Edge // key: edge ID
	children map[string][]string     // key: parent node ID, value: edge IDs
	parent   map[string]string       // key: child node ID, value: edge ID
	byType   map[schemas.NodeType][]string
	mu       sync.RWMutex
	log      *zap.Logger
}

// Ensures InMemoryKG implements the accessor and writer interfaces at compile time.
var (
	_ schemas.ProgramGraph = (*InMemoryKG)(nil)
	_ schemas.GraphWriter  = (*InMemoryKG)(nil)
)

// NewInMemoryKG creates a new, empty in-memory program graph.
func NewInMemoryKG(logger *zap.Logger) *InMemoryKG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryKG{
		nodes:    make(map[string]schemas.Node),
		edges:    make(map[string]schemas.Edge),
		children: make(map[string][]string),
		parent:   make(map[string]string),
		byType:   make(map[schemas.NodeType][]string),
		log:      logger.Named("InMemoryKG"),
	}
}

// AddNode adds a node. Re-adding an id overwrites its record.
func (kg *InMemoryKG) AddNode(ctx context.Context, node schemas.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	kg.mu.Lock()
	defer kg.mu.Unlock()

	if old, exists := kg.nodes[node.ID]; exists {
		if old.Type != node.Type {
			kg.byType[old.Type] = removeID(kg.byType[old.Type], node.ID)
			kg.byType[node.Type] = append(kg.byType[node.Type], node.ID)
		}
	} else {
		kg.order = append(kg.order, node.ID)
		kg.byType[node.Type] = append(kg.byType[node.Type], node.ID)
	}
	kg.nodes[node.ID] = node
	return nil
}

// AddEdge adds a parent->child edge. Both endpoints must exist and a child has at most one
// parent.
func (kg *InMemoryKG) AddEdge(ctx context.Context, edge schemas.Edge) error {
	kg.mu.Lock()
	defer kg.mu.Unlock()

	if _, exists := kg.nodes[edge.From]; !exists {
		return fmt.Errorf("source node with id '%s' not found for edge", edge.From)
	}
	if _, exists := kg.nodes[edge.To]; !exists {
		return fmt.Errorf("destination node with id '%s' not found for edge", edge.To)
	}
	if existing, ok := kg.parent[edge.To]; ok && existing != edge.ID {
		return fmt.Errorf("node '%s' already has parent edge '%s'", edge.To, existing)
	}

	if existing, exists := kg.edges[edge.ID]; exists {
		if existing.From != edge.From {
			kg.children[existing.From] = removeID(kg.children[existing.From], edge.ID)
			kg.children[edge.From] = append(kg.children[edge.From], edge.ID)
		}
	} else {
		kg.children[edge.From] = append(kg.children[edge.From], edge.ID)
	}
	kg.parent[edge.To] = edge.ID
	kg.edges[edge.ID] = edge
	return nil
}

// removeID deletes one id from a slice, keeping order. Assumes the caller holds the write lock.
func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// GetNode retrieves a node by its ID.
func (kg *InMemoryKG) GetNode(ctx context.Context, id string) (schemas.Node, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	node, ok := kg.nodes[id]
	if !ok {
		return schemas.Node{}, fmt.Errorf("node with id '%s': %w", id, schemas.ErrNodeNotFound)
	}
	return node, nil
}

// Children returns the outgoing edges of a node, ordered by argument index for call
// arguments and by insertion order otherwise.
func (kg *InMemoryKG) Children(ctx context.Context, id string) ([]schemas.Edge, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	if _, ok := kg.nodes[id]; !ok {
		return nil, fmt.Errorf("node with id '%s': %w", id, schemas.ErrNodeNotFound)
	}
	ids := kg.children[id]
	out := make([]schemas.Edge, 0, len(ids))
	for _, edgeID := range ids {
		edge, ok := kg.edges[edgeID]
		if !ok {
			kg.log.Warn("Inconsistency found: edge ID in index but not in edges map", zap.String("edge_id", edgeID))
			continue
		}
		out = append(out, edge)
	}
	sortArguments(out)
	return out, nil
}

// sortArguments orders argument edges by position while leaving every other edge in its slot.
func sortArguments(edges []schemas.Edge) {
	var slots []int
	var args []schemas.Edge
	for i, e := range edges {
		if e.Relation == schemas.RelArguments {
			slots = append(slots, i)
			args = append(args, e)
		}
	}
	sort.SliceStable(args, func(i, j int) bool { return args[i].ArgIndex < args[j].ArgIndex })
	for k, slot := range slots {
		edges[slot] = args[k]
	}
}

// Parent returns the incoming edge of a node.
func (kg *InMemoryKG) Parent(ctx context.Context, id string) (schemas.Edge, bool, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	if _, ok := kg.nodes[id]; !ok {
		return schemas.Edge{}, false, fmt.Errorf("node with id '%s': %w", id, schemas.ErrNodeNotFound)
	}
	edgeID, ok := kg.parent[id]
	if !ok {
		return schemas.Edge{}, false, nil
	}
	return kg.edges[edgeID], true, nil
}

// FindNodes returns the nodes matching the filter in insertion order.
func (kg *InMemoryKG) FindNodes(ctx context.Context, filter schemas.NodeFilter) ([]schemas.Node, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	candidates := kg.order
	if filter.Type != "" {
		candidates = kg.byType[filter.Type]
	}
	var out []schemas.Node
	for _, id := range candidates {
		if n := kg.nodes[id]; filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Len returns the number of nodes and edges.
func (kg *InMemoryKG) Len() (nodes, edges int) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()
	return len(kg.nodes), len(kg.edges)
}

// Export snapshots the whole graph.
func (kg *InMemoryKG) Export() schemas.Subgraph {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	sg := schemas.Subgraph{Nodes: make([]schemas.Node, 0, len(kg.order))}
	for _, id := range kg.order {
		sg.Nodes = append(sg.Nodes, kg.nodes[id])
		for _, edgeID := range kg.children[id] {
			sg.Edges = append(sg.Edges, kg.edges[edgeID])
		}
	}
	return sg
}

// Import adds every node and then every edge of a subgraph.
func (kg *InMemoryKG) Import(ctx context.Context, sg schemas.Subgraph) error {
	for _, n := range sg.Nodes {
		if err := kg.AddNode(ctx, n); err != nil {
			return err
		}
	}
	for _, e := range sg.Edges {
		if err := kg.AddEdge(ctx, e); err != nil {
			return fmt.Errorf("failed to import edge %s: %w", e.ID, err)
		}
	}
	kg.log.Debug("Imported subgraph", zap.Int("nodes", len(sg.Nodes)), zap.Int("edges", len(sg.Edges)))
	return nil
}
