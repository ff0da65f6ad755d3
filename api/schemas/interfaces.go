package schemas

import (
	"context"
	"errors"
)

// ErrNodeNotFound is returned by graph accessors for unknown node ids.
var ErrNodeNotFound = errors.New("node not found")

// -- Program Graph Accessor --

// ProgramGraph is the read side of a program graph. Implementations may be slow or fallible
// (a remote database); an empty result is a normal outcome and is never an error.
//
//go:generate mockery --name ProgramGraph --output ../../internal/mocks --outpkg mocks
type ProgramGraph interface {
	// GetNode retrieves a node by id, returning ErrNodeNotFound when absent.
	GetNode(ctx context.Context, id string) (Node, error)
	// Children returns the outgoing edges of a node in source order.
	Children(ctx context.Context, id string) ([]Edge, error)
	// Parent returns the single incoming edge of a node. ok is false at a root.
	Parent(ctx context.Context, id string) (edge Edge, ok bool, err error)
	// FindNodes returns every node matching the filter, in insertion order.
	FindNodes(ctx context.Context, filter NodeFilter) ([]Node, error)
}

// GraphWriter is the write side used by graph front-ends.
type GraphWriter interface {
	AddNode(ctx context.Context, node Node) error
	AddEdge(ctx context.Context, edge Edge) error
}

// -- Persistence --

// FlowStore persists analysis artifacts beyond the on-disk files.
//
//go:generate mockery --name FlowStore --output ../../internal/mocks --outpkg mocks
type FlowStore interface {
	// SaveFlowReport stores one page's taint flow report.
	SaveFlowReport(ctx context.Context, runID string, report *FlowReport) error
	// SavePatternStats stores the six pattern count maps of a categorizer run.
	SavePatternStats(ctx context.Context, runID, slug string, stats *PatternStats) error
}
